// Package tracking turns candidate interactions into response events and
// folds event logs back into counters.
package tracking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/logitest/attempt-service/internal/model"
)

// VisitData is attached to visit events.
type VisitData struct {
	FromQuestionID string `json:"from_question_id,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
}

// SkipData is attached to skip events.
type SkipData struct {
	Reason string `json:"reason,omitempty"`
}

// LeaveData is attached to leave events. ElapsedMs is the focus time
// credited to the question being left.
type LeaveData struct {
	ElapsedMs    int64  `json:"elapsed_ms"`
	ToQuestionID string `json:"to_question_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// LeaveReasonFinalized marks the focus interval closed by finalization.
const LeaveReasonFinalized = "finalized"

// SkipReasonUnanswered marks skips recorded at finalization for responses
// that never received an answer.
const SkipReasonUnanswered = "unanswered_at_finalization"

// Visit returns the event for opening a question.
func Visit(now time.Time, data VisitData) model.ResponseEvent {
	return model.ResponseEvent{EventType: model.EventVisit, Timestamp: now, Data: marshal(data)}
}

// Leave returns the event that closes a focus interval on a question.
func Leave(now time.Time, data LeaveData) model.ResponseEvent {
	return model.ResponseEvent{EventType: model.EventLeave, Timestamp: now, Data: marshal(data)}
}

// Answer returns the event for submitting payload over the current state of
// r. It returns false when nothing changes: an identical resubmission, or an
// empty answer over an empty response.
func Answer(r *model.QuestionResponse, payload model.AnswerPayload, now time.Time) (model.ResponseEvent, bool) {
	next := payload.Normalize()
	current := r.Answer()
	if current.Equal(next) {
		return model.ResponseEvent{}, false
	}
	ev := model.ResponseEvent{Timestamp: now, Data: marshal(next)}
	if current.IsEmpty() {
		ev.EventType = model.EventAnswer
	} else {
		ev.EventType = model.EventChange
	}
	return ev, true
}

// ToggleFlag returns a flag or unflag event depending on the current state.
func ToggleFlag(r *model.QuestionResponse, now time.Time) model.ResponseEvent {
	t := model.EventFlag
	if r.IsFlagged {
		t = model.EventUnflag
	}
	return model.ResponseEvent{EventType: t, Timestamp: now}
}

// Skip returns the skip event, or false if r is already skipped.
func Skip(r *model.QuestionResponse, now time.Time, reason string) (model.ResponseEvent, bool) {
	if r.IsSkipped {
		return model.ResponseEvent{}, false
	}
	ev := model.ResponseEvent{EventType: model.EventSkip, Timestamp: now}
	if reason != "" {
		ev.Data = marshal(SkipData{Reason: reason})
	}
	return ev, true
}

// Apply computes the effect of ev on r and on the attempt counters. r is
// not modified.
func Apply(r *model.QuestionResponse, ev model.ResponseEvent) (model.ResponseDelta, model.AttemptDelta, error) {
	var (
		rd model.ResponseDelta
		ad model.AttemptDelta
	)
	at := ev.Timestamp

	switch ev.EventType {
	case model.EventVisit:
		rd.VisitInc = 1
		rd.VisitedAt = &at

	case model.EventLeave:
		var data LeaveData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return rd, ad, fmt.Errorf("decode %s event: %w", ev.EventType, err)
		}
		if data.ElapsedMs < 0 {
			return rd, ad, fmt.Errorf("%s event with negative elapsed time %d", ev.EventType, data.ElapsedMs)
		}
		rd.TimeSpentInc = data.ElapsedMs

	case model.EventAnswer, model.EventChange:
		var next model.AnswerPayload
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &next); err != nil {
				return rd, ad, fmt.Errorf("decode %s event: %w", ev.EventType, err)
			}
		}
		had := r.HasAnswer()
		has := !next.IsEmpty()

		rd.ReplaceAnswer = true
		rd.Answer = next
		if has {
			rd.AnsweredAt = &at
		}
		if ev.EventType == model.EventChange {
			rd.AnswerChangesInc = 1
			ad.AnswerChanges = 1
		}
		switch {
		case !had && has:
			ad.QuestionsAnswered = 1
		case had && !has:
			ad.QuestionsAnswered = -1
		}
		if has && r.IsSkipped {
			rd.Skipped = boolPtr(false)
			ad.QuestionsSkipped = -1
		}

	case model.EventFlag:
		if !r.IsFlagged {
			rd.Flagged = boolPtr(true)
			ad.FlaggedQuestions = 1
		}

	case model.EventUnflag:
		if r.IsFlagged {
			rd.Flagged = boolPtr(false)
			ad.FlaggedQuestions = -1
		}

	case model.EventSkip:
		if !r.IsSkipped {
			rd.Skipped = boolPtr(true)
			ad.QuestionsSkipped = 1
			if r.HasAnswer() {
				ad.QuestionsAnswered = -1
			}
			rd.ReplaceAnswer = true
		}

	default:
		return rd, ad, fmt.Errorf("unknown event type %q", ev.EventType)
	}
	return rd, ad, nil
}

// Replay folds an event log from an empty response. The returned response
// carries every counter the log implies, and the delta is its total
// contribution to the attempt counters.
func Replay(events []model.ResponseEvent) (model.QuestionResponse, model.AttemptDelta, error) {
	var (
		r     model.QuestionResponse
		total model.AttemptDelta
	)
	for _, ev := range events {
		rd, ad, err := Apply(&r, ev)
		if err != nil {
			return r, total, err
		}
		rd.ApplyTo(&r)
		total = total.Add(ad)
	}
	return r, total, nil
}

// Summarize recounts the attempt counters from a set of responses.
func Summarize(responses []model.QuestionResponse) model.AttemptCounters {
	var c model.AttemptCounters
	for i := range responses {
		r := &responses[i]
		if r.HasAnswer() {
			c.QuestionsAnswered++
		}
		if r.IsSkipped {
			c.QuestionsSkipped++
		}
		if r.IsFlagged {
			c.FlaggedQuestions++
		}
		c.AnswerChanges += r.AnswerChanges
	}
	return c
}

func marshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "{}" {
		return nil
	}
	return b
}

func boolPtr(b bool) *bool { return &b }
