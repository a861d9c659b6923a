// Package grading scores question responses. It is pure: no storage, no
// clock, no logging.
package grading

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/model"
)

// ErrNoStrategy is returned when a question type has no registered strategy.
var ErrNoStrategy = errors.New("no grading strategy for question type")

// Policy holds every scoring weight. A weight is the credit, in [0,1], that
// one question contributes to the attempt score.
type Policy struct {
	CorrectWeight     float64 `mapstructure:"correct_weight"`
	HalfCorrectWeight float64 `mapstructure:"half_correct_weight"`
	ReversedWeight    float64 `mapstructure:"reversed_weight"`
}

// DefaultPolicy gives full credit for exact answers and half credit for
// half-correct and reversed dominoes.
func DefaultPolicy() Policy {
	return Policy{
		CorrectWeight:     1.0,
		HalfCorrectWeight: 0.5,
		ReversedWeight:    0.5,
	}
}

// Validate checks that all weights are within [0,1].
func (p Policy) Validate() error {
	for name, w := range map[string]float64{
		"correct_weight":      p.CorrectWeight,
		"half_correct_weight": p.HalfCorrectWeight,
		"reversed_weight":     p.ReversedWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("grading policy: %s must be within [0,1], got %v", name, w)
		}
	}
	return nil
}

// Outcome is the result of grading one response.
type Outcome struct {
	IsCorrect     bool
	IsReversed    bool
	IsHalfCorrect bool
	Unanswered    bool
	// Score is the weighted credit of this response, in [0,1].
	Score float64
	// Propositions carries per-proposition correctness for multiple choice.
	Propositions          []model.PropositionResponse
	PropositionsCorrect   int
	PropositionsAttempted int
	PropositionsTotal     int
}

// Strategy grades one question variant.
type Strategy interface {
	Grade(q *model.Question, r *model.QuestionResponse, p Policy) (Outcome, error)
}

// Engine routes responses to the strategy registered for their question type.
type Engine struct {
	policy     Policy
	strategies map[model.QuestionType]Strategy
}

type Option func(*Engine)

// WithStrategy registers or replaces the strategy for a question type.
func WithStrategy(t model.QuestionType, s Strategy) Option {
	return func(e *Engine) { e.strategies[t] = s }
}

// NewEngine returns an engine with the built-in domino and multiple choice
// strategies.
func NewEngine(policy Policy, opts ...Option) *Engine {
	e := &Engine{
		policy: policy,
		strategies: map[model.QuestionType]Strategy{
			model.QuestionTypeDomino:         dominoStrategy{},
			model.QuestionTypeMultipleChoice: multipleChoiceStrategy{},
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Policy returns the weights used by the engine.
func (e *Engine) Policy() Policy { return e.policy }

// Grade scores a single response against its question. A nil response is
// graded as unanswered.
func (e *Engine) Grade(q *model.Question, r *model.QuestionResponse) (Outcome, error) {
	if err := q.Validate(); err != nil {
		return Outcome{}, err
	}
	s, ok := e.strategies[q.Type]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoStrategy, q.Type)
	}
	if r == nil {
		r = &model.QuestionResponse{}
	}
	return s.Grade(q, r, e.policy)
}

// Summary is the attempt-level grading result.
type Summary struct {
	QuestionsTotal        int
	RawScore              float64
	Score                 float64
	PercentageScore       float64
	Correct               int
	HalfCorrect           int
	Reversed              int
	Ungraded              int
	PropositionsCorrect   int
	PropositionsAttempted int
}

// Graded pairs a response with its outcome. Graded is false when the
// response could not be scored.
type Graded struct {
	ResponseID uuid.UUID
	Outcome    Outcome
	Graded     bool
	Err        error
}

// ScoreAttempt grades every response and aggregates the attempt score.
// The score is the mean credit over total questions, the count frozen when
// the attempt started; total <= 0 falls back to len(questions). Untouched
// questions count as zero. A response whose question is unknown or
// malformed is reported as ungraded with zero credit; it never aborts
// scoring and never shrinks the denominator.
func (e *Engine) ScoreAttempt(questions []model.Question, responses []model.QuestionResponse, total int) (Summary, []Graded) {
	byID := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	if total <= 0 {
		total = len(questions)
	}
	sum := Summary{QuestionsTotal: total}
	results := make([]Graded, 0, len(responses))
	for i := range responses {
		r := &responses[i]
		q, ok := byID[r.QuestionID]
		if !ok {
			sum.Ungraded++
			results = append(results, Graded{
				ResponseID: r.ID,
				Outcome:    Outcome{Unanswered: !r.HasAnswer()},
				Err:        fmt.Errorf("question %s not in test", r.QuestionID),
			})
			continue
		}
		out, err := e.Grade(q, r)
		if err != nil {
			sum.Ungraded++
			results = append(results, Graded{ResponseID: r.ID, Outcome: Outcome{Unanswered: !r.HasAnswer()}, Err: err})
			continue
		}
		sum.RawScore += out.Score
		if out.IsCorrect {
			sum.Correct++
		}
		if out.IsHalfCorrect {
			sum.HalfCorrect++
		}
		if out.IsReversed {
			sum.Reversed++
		}
		sum.PropositionsCorrect += out.PropositionsCorrect
		sum.PropositionsAttempted += out.PropositionsAttempted
		results = append(results, Graded{ResponseID: r.ID, Outcome: out, Graded: true})
	}

	if sum.QuestionsTotal > 0 {
		sum.Score = sum.RawScore / float64(sum.QuestionsTotal)
	}
	sum.PercentageScore = sum.Score * 100
	return sum, results
}
