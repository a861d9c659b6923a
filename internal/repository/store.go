package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/model"
)

var (
	// ErrNotFound is returned when a test, question or attempt does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAttemptNotInProgress is returned by a guarded write that finds the
	// attempt already finalized.
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
)

// AttemptFilter narrows attempt listings.
type AttemptFilter struct {
	Status *model.AttemptStatus
	Limit  int
	Offset int
}

// AttemptStore persists attempts, responses and their event logs.
type AttemptStore interface {
	// CreateAttempt inserts an in-progress attempt. If the candidate already
	// has one for the same test, that attempt is returned with created=false
	// and nothing is written.
	CreateAttempt(ctx context.Context, a *model.TestAttempt) (attempt *model.TestAttempt, created bool, err error)
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.TestAttempt, error)
	ListByCandidate(ctx context.Context, candidateID string) ([]model.TestAttempt, error)
	ListByCandidateAndTest(ctx context.Context, candidateID string, testID uuid.UUID) ([]model.TestAttempt, error)
	ListByTest(ctx context.Context, testID uuid.UUID, f AttemptFilter) ([]model.TestAttempt, int, error)
	// ListStale returns in-progress attempts past their deadline or idle
	// since before idleBefore.
	ListStale(ctx context.Context, now, idleBefore time.Time, limit int) ([]model.TestAttempt, error)
	ListResponses(ctx context.Context, attemptID uuid.UUID) ([]model.QuestionResponse, error)
	// ListEvents returns the attempt's events in server-received order.
	ListEvents(ctx context.Context, attemptID uuid.UUID) ([]model.ResponseEvent, error)
	// WithAttempt runs fn while holding the attempt's lock. All writes made
	// through tx commit together when fn returns nil, and none do otherwise.
	WithAttempt(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx AttemptTx) error) error
}

// AttemptTx is the write side of a locked attempt.
type AttemptTx interface {
	// Attempt returns the attempt as of the last write in this unit.
	Attempt() *model.TestAttempt
	// Response returns the stored response, or nil if the question has not
	// been touched yet.
	Response(ctx context.Context, questionID uuid.UUID) (*model.QuestionResponse, error)
	Responses(ctx context.Context) ([]model.QuestionResponse, error)
	// SaveResponse creates r if needed, applies d as increments, and appends
	// ev to its log when ev is non-nil. It returns the stored response.
	SaveResponse(ctx context.Context, r *model.QuestionResponse, d model.ResponseDelta, ev *model.ResponseEvent) (*model.QuestionResponse, error)
	UpdateAttempt(ctx context.Context, u model.AttemptUpdate) error
	// Finalize freezes the attempt. It fails with ErrAttemptNotInProgress if
	// the attempt is already terminal.
	Finalize(ctx context.Context, f model.Finalization) error
}

// QuestionBank is the read-only source of tests and questions.
type QuestionBank interface {
	GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error)
	GetQuestion(ctx context.Context, id uuid.UUID) (*model.Question, error)
	// ListQuestions returns the questions of a test ordered by number.
	ListQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error)
}

// ActiveTestLister is implemented by banks that can enumerate active tests.
type ActiveTestLister interface {
	ListActiveTests(ctx context.Context) ([]model.Test, error)
}

// HydrateMetrics fills the per-question maps of a from its responses.
func HydrateMetrics(a *model.TestAttempt, responses []model.QuestionResponse) {
	a.Metrics.VisitCounts = make(map[uuid.UUID]int, len(responses))
	a.Metrics.TimePerQuestion = make(map[uuid.UUID]int64, len(responses))
	for _, r := range responses {
		a.Metrics.VisitCounts[r.QuestionID] = r.VisitCount
		a.Metrics.TimePerQuestion[r.QuestionID] = r.TimeSpent
	}
}
