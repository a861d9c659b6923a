package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in-progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusTimedOut   AttemptStatus = "timed-out"
	AttemptStatusAbandoned  AttemptStatus = "abandoned"
)

// IsTerminal reports whether no further mutation is allowed.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusTimedOut || s == AttemptStatusAbandoned
}

// Valid reports whether s is a known status.
func (s AttemptStatus) Valid() bool {
	return s == AttemptStatusInProgress || s.IsTerminal()
}

// AttemptCounters are the live, event-driven counters of an attempt.
type AttemptCounters struct {
	QuestionsAnswered int `json:"questions_answered"`
	QuestionsSkipped  int `json:"questions_skipped"`
	AnswerChanges     int `json:"answer_changes"`
	FlaggedQuestions  int `json:"flagged_questions"`
}

// Apply adds d to the counters. Counters never go below zero.
func (c *AttemptCounters) Apply(d AttemptDelta) {
	c.QuestionsAnswered = nonNegative(c.QuestionsAnswered + d.QuestionsAnswered)
	c.QuestionsSkipped = nonNegative(c.QuestionsSkipped + d.QuestionsSkipped)
	c.AnswerChanges = nonNegative(c.AnswerChanges + d.AnswerChanges)
	c.FlaggedQuestions = nonNegative(c.FlaggedQuestions + d.FlaggedQuestions)
}

// FinalStats are computed once, when the attempt is finalized.
type FinalStats struct {
	CorrectAnswers           int     `json:"correct_answers"`
	HalfCorrectAnswers       int     `json:"half_correct_answers"`
	ReversedAnswers          int     `json:"reversed_answers"`
	UngradedResponses        int     `json:"ungraded_responses"`
	PropositionsCorrect      int     `json:"total_propositions_correct"`
	PropositionsAttempted    int     `json:"total_propositions_attempted"`
	PropositionAccuracy      float64 `json:"proposition_accuracy"`
	CompletionRate           float64 `json:"completion_rate"`
	TotalTimeSpent           int64   `json:"total_time_spent"`
	AverageTimePerQuestion   float64 `json:"average_time_per_question"`
	TotalVisits              int     `json:"total_visits"`
	AverageVisitsPerQuestion float64 `json:"average_visits_per_question"`
}

// AttemptMetrics is the attempt-level aggregate exposed to clients.
type AttemptMetrics struct {
	AttemptCounters
	VisitCounts     map[uuid.UUID]int   `json:"visit_counts"`
	TimePerQuestion map[uuid.UUID]int64 `json:"time_per_question"`
	Final           *FinalStats         `json:"final,omitempty"`
}

// TestAttempt is one candidate's sitting of one test.
type TestAttempt struct {
	ID              uuid.UUID      `json:"id"`
	TestID          uuid.UUID      `json:"test_id"`
	CandidateID     string         `json:"candidate_id"`
	Status          AttemptStatus  `json:"status"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	ExpiresAt       time.Time      `json:"expires_at"`
	LastActivityAt  time.Time      `json:"last_activity_at"`
	QuestionsTotal  int            `json:"questions_total"`
	Score           float64        `json:"score"`
	RawScore        float64        `json:"raw_score"`
	PercentageScore float64        `json:"percentage_score"`
	FocusQuestionID *uuid.UUID     `json:"current_question_id,omitempty"`
	FocusSince      *time.Time     `json:"-"`
	Metrics         AttemptMetrics `json:"metrics"`
	UserAgent       string         `json:"user_agent,omitempty"`
	IPAddress       string         `json:"ip_address,omitempty"`
	Device          string         `json:"device,omitempty"`
	Browser         string         `json:"browser,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of a.
func (a *TestAttempt) Clone() *TestAttempt {
	out := *a
	if a.EndTime != nil {
		t := *a.EndTime
		out.EndTime = &t
	}
	if a.FocusQuestionID != nil {
		id := *a.FocusQuestionID
		out.FocusQuestionID = &id
	}
	if a.FocusSince != nil {
		t := *a.FocusSince
		out.FocusSince = &t
	}
	if a.Metrics.VisitCounts != nil {
		out.Metrics.VisitCounts = make(map[uuid.UUID]int, len(a.Metrics.VisitCounts))
		for k, v := range a.Metrics.VisitCounts {
			out.Metrics.VisitCounts[k] = v
		}
	}
	if a.Metrics.TimePerQuestion != nil {
		out.Metrics.TimePerQuestion = make(map[uuid.UUID]int64, len(a.Metrics.TimePerQuestion))
		for k, v := range a.Metrics.TimePerQuestion {
			out.Metrics.TimePerQuestion[k] = v
		}
	}
	if a.Metrics.Final != nil {
		f := *a.Metrics.Final
		out.Metrics.Final = &f
	}
	return &out
}

// AttemptUpdate is the set of changes applied to an in-progress attempt in
// one guarded mutation.
type AttemptUpdate struct {
	Counters   AttemptDelta
	ActivityAt time.Time
	// SetFocus replaces the focused question; a nil FocusQuestionID clears it.
	SetFocus        bool
	FocusQuestionID *uuid.UUID
	FocusSince      *time.Time
}

// Finalization freezes an attempt.
type Finalization struct {
	Status          AttemptStatus
	EndTime         time.Time
	Score           float64
	RawScore        float64
	PercentageScore float64
	QuestionsTotal  int
	Counters        AttemptCounters
	Final           FinalStats
	Grades          []ResponseGrade
}

// ResponseGrade is the grading outcome persisted on one response.
type ResponseGrade struct {
	ResponseID           uuid.UUID
	IsCorrect            bool
	IsReversed           bool
	IsHalfCorrect        bool
	Score                float64
	Graded               bool
	PropositionResponses []PropositionResponse
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
