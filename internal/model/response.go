package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DominoAnswer is the candidate's value for the editable tile.
type DominoAnswer struct {
	TileID      int  `json:"tile_id"`
	TopValue    *int `json:"top_value"`
	BottomValue *int `json:"bottom_value"`
}

// IsEmpty reports whether neither half has been filled in.
func (a *DominoAnswer) IsEmpty() bool {
	return a == nil || (a.TopValue == nil && a.BottomValue == nil)
}

func (a *DominoAnswer) clone() *DominoAnswer {
	if a == nil {
		return nil
	}
	out := DominoAnswer{TileID: a.TileID}
	if a.TopValue != nil {
		v := *a.TopValue
		out.TopValue = &v
	}
	if a.BottomValue != nil {
		v := *a.BottomValue
		out.BottomValue = &v
	}
	return &out
}

// PropositionResponse is the candidate's evaluation of one proposition.
// IsCorrect is only set once the attempt has been graded.
type PropositionResponse struct {
	PropositionIndex    int        `json:"proposition_index"`
	CandidateEvaluation Evaluation `json:"candidate_evaluation"`
	IsCorrect           *bool      `json:"is_correct,omitempty"`
}

// AnswerPayload is a submitted answer: a domino value or a list of
// proposition evaluations.
type AnswerPayload struct {
	Domino       *DominoAnswer         `json:"domino_answer,omitempty"`
	Propositions []PropositionResponse `json:"proposition_responses,omitempty"`
}

// IsEmpty reports whether the payload carries no answer at all.
func (p AnswerPayload) IsEmpty() bool {
	return p.Domino.IsEmpty() && len(p.Propositions) == 0
}

// Normalize returns a canonical copy: empty parts are nil, propositions are
// sorted by index and carry no grading data.
func (p AnswerPayload) Normalize() AnswerPayload {
	var out AnswerPayload
	if !p.Domino.IsEmpty() {
		out.Domino = p.Domino.clone()
	}
	if len(p.Propositions) > 0 {
		out.Propositions = make([]PropositionResponse, len(p.Propositions))
		for i, pr := range p.Propositions {
			out.Propositions[i] = PropositionResponse{
				PropositionIndex:    pr.PropositionIndex,
				CandidateEvaluation: pr.CandidateEvaluation,
			}
		}
		sort.Slice(out.Propositions, func(i, j int) bool {
			return out.Propositions[i].PropositionIndex < out.Propositions[j].PropositionIndex
		})
	}
	return out
}

// Equal compares two payloads after normalization.
func (p AnswerPayload) Equal(o AnswerPayload) bool {
	a, b := p.Normalize(), o.Normalize()
	if (a.Domino == nil) != (b.Domino == nil) {
		return false
	}
	if a.Domino != nil {
		if a.Domino.TileID != b.Domino.TileID ||
			!equalPips(a.Domino.TopValue, b.Domino.TopValue) ||
			!equalPips(a.Domino.BottomValue, b.Domino.BottomValue) {
			return false
		}
	}
	if len(a.Propositions) != len(b.Propositions) {
		return false
	}
	for i := range a.Propositions {
		if a.Propositions[i].PropositionIndex != b.Propositions[i].PropositionIndex ||
			a.Propositions[i].CandidateEvaluation != b.Propositions[i].CandidateEvaluation {
			return false
		}
	}
	return true
}

// QuestionResponse is the per-question record of an attempt, created on
// first touch.
type QuestionResponse struct {
	ID                   uuid.UUID             `json:"id"`
	AttemptID            uuid.UUID             `json:"attempt_id"`
	QuestionID           uuid.UUID             `json:"question_id"`
	CandidateID          string                `json:"candidate_id"`
	DominoAnswer         *DominoAnswer         `json:"domino_answer,omitempty"`
	PropositionResponses []PropositionResponse `json:"proposition_responses,omitempty"`
	IsCorrect            bool                  `json:"is_correct"`
	IsReversed           bool                  `json:"is_reversed"`
	IsHalfCorrect        bool                  `json:"is_half_correct"`
	Score                float64               `json:"score"`
	Graded               bool                  `json:"graded"`
	TimeSpent            int64                 `json:"time_spent"`
	ReportedTime         int64                 `json:"reported_time"`
	VisitCount           int                   `json:"visit_count"`
	IsFlagged            bool                  `json:"is_flagged"`
	IsSkipped            bool                  `json:"is_skipped"`
	AnswerChanges        int                   `json:"answer_changes"`
	FirstVisitAt         *time.Time            `json:"first_visit_at,omitempty"`
	LastVisitAt          *time.Time            `json:"last_visit_at,omitempty"`
	AnsweredAt           *time.Time            `json:"answered_at,omitempty"`
	Events               []ResponseEvent       `json:"events,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// NewQuestionResponse returns an untouched response for a question.
func NewQuestionResponse(attemptID, questionID uuid.UUID, candidateID string) *QuestionResponse {
	return &QuestionResponse{
		ID:          uuid.New(),
		AttemptID:   attemptID,
		QuestionID:  questionID,
		CandidateID: candidateID,
	}
}

// Answer returns the stored answer as a normalized payload.
func (r *QuestionResponse) Answer() AnswerPayload {
	return AnswerPayload{Domino: r.DominoAnswer, Propositions: r.PropositionResponses}.Normalize()
}

// HasAnswer reports whether a non-empty answer is stored.
func (r *QuestionResponse) HasAnswer() bool {
	return !r.Answer().IsEmpty()
}

// Clone returns a deep copy of r without its events.
func (r *QuestionResponse) Clone() *QuestionResponse {
	out := *r
	out.DominoAnswer = r.DominoAnswer.clone()
	if r.PropositionResponses != nil {
		out.PropositionResponses = make([]PropositionResponse, len(r.PropositionResponses))
		for i, pr := range r.PropositionResponses {
			out.PropositionResponses[i] = pr
			if pr.IsCorrect != nil {
				v := *pr.IsCorrect
				out.PropositionResponses[i].IsCorrect = &v
			}
		}
	}
	out.FirstVisitAt = cloneTime(r.FirstVisitAt)
	out.LastVisitAt = cloneTime(r.LastVisitAt)
	out.AnsweredAt = cloneTime(r.AnsweredAt)
	out.Events = nil
	return &out
}

// EventType enumerates response event log entries.
type EventType string

const (
	EventVisit  EventType = "visit"
	EventAnswer EventType = "answer"
	EventChange EventType = "change"
	EventFlag   EventType = "flag"
	EventUnflag EventType = "unflag"
	EventSkip   EventType = "skip"
	// EventLeave closes a focus interval; its data carries the elapsed time.
	EventLeave  EventType = "leave"
)

// ResponseEvent is one append-only entry of a response's event log.
type ResponseEvent struct {
	Seq        int64           `json:"-"`
	ResponseID uuid.UUID       `json:"-"`
	EventType  EventType       `json:"event_type"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ResponseDelta describes one mutation of a QuestionResponse. Counter
// fields are increments; pointer fields are replacements when non-nil.
type ResponseDelta struct {
	VisitInc         int
	TimeSpentInc     int64
	ReportedTimeInc  int64
	AnswerChangesInc int
	Flagged          *bool
	Skipped          *bool
	ReplaceAnswer    bool
	Answer           AnswerPayload
	VisitedAt        *time.Time
	AnsweredAt       *time.Time
}

// ApplyTo mutates r in place.
func (d ResponseDelta) ApplyTo(r *QuestionResponse) {
	r.VisitCount += d.VisitInc
	r.TimeSpent += d.TimeSpentInc
	r.ReportedTime += d.ReportedTimeInc
	r.AnswerChanges += d.AnswerChangesInc
	if d.Flagged != nil {
		r.IsFlagged = *d.Flagged
	}
	if d.Skipped != nil {
		r.IsSkipped = *d.Skipped
	}
	if d.ReplaceAnswer {
		a := d.Answer.Normalize()
		r.DominoAnswer = a.Domino
		r.PropositionResponses = a.Propositions
	}
	if d.VisitedAt != nil {
		if r.FirstVisitAt == nil {
			r.FirstVisitAt = cloneTime(d.VisitedAt)
		}
		r.LastVisitAt = cloneTime(d.VisitedAt)
	}
	if d.AnsweredAt != nil {
		r.AnsweredAt = cloneTime(d.AnsweredAt)
	}
}

// AttemptDelta is a change to the attempt-level counters.
type AttemptDelta struct {
	QuestionsAnswered int
	QuestionsSkipped  int
	AnswerChanges     int
	FlaggedQuestions  int
}

// Add returns the sum of d and o.
func (d AttemptDelta) Add(o AttemptDelta) AttemptDelta {
	return AttemptDelta{
		QuestionsAnswered: d.QuestionsAnswered + o.QuestionsAnswered,
		QuestionsSkipped:  d.QuestionsSkipped + o.QuestionsSkipped,
		AnswerChanges:     d.AnswerChanges + o.AnswerChanges,
		FlaggedQuestions:  d.FlaggedQuestions + o.FlaggedQuestions,
	}
}

func equalPips(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
