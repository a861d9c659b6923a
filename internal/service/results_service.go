package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/logitest/attempt-service/internal/repository"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// AttemptSummary is the attempt header of a results report.
type AttemptSummary struct {
	ID              uuid.UUID            `json:"id"`
	TestID          uuid.UUID            `json:"test_id"`
	CandidateID     string               `json:"candidate_id"`
	Status          model.AttemptStatus  `json:"status"`
	StartTime       time.Time            `json:"start_time"`
	EndTime         *time.Time           `json:"end_time,omitempty"`
	QuestionsTotal  int                  `json:"questions_total"`
	Score           float64              `json:"score"`
	RawScore        float64              `json:"raw_score"`
	PercentageScore float64              `json:"percentage_score"`
	Metrics         model.AttemptMetrics `json:"metrics"`
}

// TestSummary describes the test an attempt was taken on.
type TestSummary struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
}

type DominoAnalysis struct {
	TopMatches    bool `json:"top_matches"`
	BottomMatches bool `json:"bottom_matches"`
}

type PropositionAnalysis struct {
	Total    int     `json:"total"`
	Answered int     `json:"answered"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// ResponseResult is a graded response, or a placeholder for a question the
// candidate never opened.
type ResponseResult struct {
	Answered             bool                        `json:"answered"`
	DominoAnswer         *model.DominoAnswer         `json:"domino_answer,omitempty"`
	PropositionResponses []model.PropositionResponse `json:"proposition_responses,omitempty"`
	IsCorrect            bool                        `json:"is_correct"`
	IsReversed           bool                        `json:"is_reversed"`
	IsHalfCorrect        bool                        `json:"is_half_correct"`
	IsSkipped            bool                        `json:"is_skipped"`
	IsFlagged            bool                        `json:"is_flagged"`
	Score                float64                     `json:"score"`
	Graded               bool                        `json:"graded"`
	TimeSpent            int64                       `json:"time_spent"`
	ReportedTime         int64                       `json:"reported_time"`
	VisitCount           int                         `json:"visit_count"`
	AnswerChanges        int                         `json:"answer_changes"`
	AverageTimePerVisit  float64                     `json:"average_time_per_visit"`
	Events               []model.ResponseEvent       `json:"events"`
	DominoAnalysis       *DominoAnalysis             `json:"domino_analysis,omitempty"`
	PropositionAnalysis  *PropositionAnalysis        `json:"proposition_analysis,omitempty"`
}

// QuestionResult joins a question, its answer key and the response.
type QuestionResult struct {
	ID             uuid.UUID                  `json:"question_id"`
	QuestionNumber int                        `json:"question_number"`
	Type           model.QuestionType         `json:"question_type"`
	Instruction    string                     `json:"instruction"`
	Difficulty     string                     `json:"difficulty,omitempty"`
	Tiles          []model.Tile               `json:"tiles,omitempty"`
	CorrectAnswer  *model.DominoCorrectAnswer `json:"correct_answer,omitempty"`
	Propositions   []model.Proposition        `json:"propositions,omitempty"`
	Response       ResponseResult             `json:"response"`
}

type DominoStats struct {
	Total       int `json:"total"`
	Correct     int `json:"correct"`
	HalfCorrect int `json:"half_correct"`
	Reversed    int `json:"reversed"`
}

type MultipleChoiceStats struct {
	Total               int `json:"total"`
	TotalPropositions   int `json:"total_propositions"`
	CorrectPropositions int `json:"correct_propositions"`
}

type DifficultyStats struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// ResultsSummary aggregates a finalized attempt. Averages are taken over
// the questions the candidate actually touched.
type ResultsSummary struct {
	TotalQuestions           int                        `json:"total_questions"`
	QuestionsAnswered        int                        `json:"questions_answered"`
	QuestionsFlagged         int                        `json:"questions_flagged"`
	CorrectCount             int                        `json:"correct_count"`
	HalfCorrectCount         int                        `json:"half_correct_count"`
	ReversedCount            int                        `json:"reversed_count"`
	IncorrectCount           int                        `json:"incorrect_count"`
	SkippedCount             int                        `json:"skipped_count"`
	UngradedCount            int                        `json:"ungraded_count"`
	TotalTimeSpent           int64                      `json:"total_time_spent"`
	AverageTimePerQuestion   float64                    `json:"average_time_per_question"`
	FastestQuestion          int64                      `json:"fastest_question"`
	SlowestQuestion          int64                      `json:"slowest_question"`
	TotalVisits              int                        `json:"total_visits"`
	AverageVisitsPerQuestion float64                    `json:"average_visits_per_question"`
	TotalAnswerChanges       int                        `json:"total_answer_changes"`
	CompletionRate           float64                    `json:"completion_rate"`
	AccuracyRate             float64                    `json:"accuracy_rate"`
	DominoStats              DominoStats                `json:"domino_stats"`
	MultipleChoiceStats      MultipleChoiceStats        `json:"multiple_choice_stats"`
	DifficultyPerformance    map[string]DifficultyStats `json:"difficulty_performance"`
}

// ResultsReport is the detailed report of a finalized attempt.
type ResultsReport struct {
	Attempt   AttemptSummary   `json:"attempt"`
	Test      TestSummary      `json:"test"`
	Questions []QuestionResult `json:"questions"`
	Summary   ResultsSummary   `json:"summary"`
}

// ResultsService builds results reports. It only reads.
type ResultsService struct {
	store  repository.AttemptStore
	bank   repository.QuestionBank
	tracer trace.Tracer
	log    zerolog.Logger
}

// NewResultsService creates a new ResultsService.
func NewResultsService(store repository.AttemptStore, bank repository.QuestionBank, log zerolog.Logger) *ResultsService {
	return &ResultsService{
		store:  store,
		bank:   bank,
		tracer: otel.Tracer(tracerName),
		log:    log.With().Str("component", "results_service").Logger(),
	}
}

// Report returns the results of a finalized attempt the caller may view.
func (s *ResultsService) Report(ctx context.Context, caller model.Identity, attemptID uuid.UUID) (*ResultsReport, error) {
	ctx, span := s.tracer.Start(ctx, "ResultsService.Report")
	defer span.End()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, translate(err)
	}
	if !caller.CanView(a.CandidateID) {
		return nil, ErrForbidden
	}
	if !a.Status.IsTerminal() {
		return nil, ErrResultsNotReady
	}

	var (
		test      *model.Test
		questions []model.Question
		responses []model.QuestionResponse
		events    []model.ResponseEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		test, err = s.bank.GetTest(gctx, a.TestID)
		return translate(err)
	})
	g.Go(func() error {
		var err error
		questions, err = s.bank.ListQuestions(gctx, a.TestID)
		return translate(err)
	})
	g.Go(func() error {
		var err error
		responses, err = s.store.ListResponses(gctx, attemptID)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = s.store.ListEvents(gctx, attemptID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	repository.HydrateMetrics(a, responses)

	report := &ResultsReport{}
	if err := copier.CopyWithOption(&report.Attempt, a, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	if err := copier.Copy(&report.Test, test); err != nil {
		return nil, err
	}

	eventsByResponse := make(map[uuid.UUID][]model.ResponseEvent, len(responses))
	for _, e := range events {
		eventsByResponse[e.ResponseID] = append(eventsByResponse[e.ResponseID], e)
	}
	byQuestion := make(map[uuid.UUID]*model.QuestionResponse, len(responses))
	for i := range responses {
		byQuestion[responses[i].QuestionID] = &responses[i]
	}

	report.Questions = make([]QuestionResult, 0, len(questions))
	for i := range questions {
		qr, err := buildQuestionResult(&questions[i], byQuestion[questions[i].ID], eventsByResponse)
		if err != nil {
			return nil, err
		}
		report.Questions = append(report.Questions, qr)
	}
	report.Summary = summarize(questions, responses, a.Metrics.AttemptCounters)
	return report, nil
}

func buildQuestionResult(q *model.Question, r *model.QuestionResponse, events map[uuid.UUID][]model.ResponseEvent) (QuestionResult, error) {
	var out QuestionResult
	if err := copier.Copy(&out, q); err != nil {
		return out, err
	}
	if q.Domino != nil {
		out.Tiles = q.Domino.Tiles
		out.CorrectAnswer = q.Domino.CorrectAnswer
	}
	if q.MultipleChoice != nil {
		out.Propositions = q.MultipleChoice.Propositions
	}

	if r == nil {
		out.Response = ResponseResult{Events: []model.ResponseEvent{}}
		return out, nil
	}

	if err := copier.CopyWithOption(&out.Response, r, copier.Option{DeepCopy: true}); err != nil {
		return out, err
	}
	rr := &out.Response
	rr.Answered = r.HasAnswer()
	rr.Events = events[r.ID]
	if rr.Events == nil {
		rr.Events = []model.ResponseEvent{}
	}
	if r.VisitCount > 0 {
		rr.AverageTimePerVisit = float64(r.TimeSpent) / float64(r.VisitCount)
	}

	switch {
	case q.Domino != nil && q.Domino.CorrectAnswer != nil && r.DominoAnswer != nil:
		key := q.Domino.CorrectAnswer
		rr.DominoAnalysis = &DominoAnalysis{
			TopMatches:    r.DominoAnswer.TopValue != nil && *r.DominoAnswer.TopValue == key.TopValue,
			BottomMatches: r.DominoAnswer.BottomValue != nil && *r.DominoAnswer.BottomValue == key.BottomValue,
		}
	case q.MultipleChoice != nil:
		pa := &PropositionAnalysis{Total: len(q.MultipleChoice.Propositions), Answered: len(r.PropositionResponses)}
		for _, p := range r.PropositionResponses {
			if p.IsCorrect != nil && *p.IsCorrect {
				pa.Correct++
			}
		}
		if pa.Total > 0 {
			pa.Accuracy = float64(pa.Correct) / float64(pa.Total) * 100
		}
		rr.PropositionAnalysis = pa
	}
	return out, nil
}

func summarize(questions []model.Question, responses []model.QuestionResponse, c model.AttemptCounters) ResultsSummary {
	sum := ResultsSummary{
		TotalQuestions:        len(questions),
		QuestionsAnswered:     c.QuestionsAnswered,
		QuestionsFlagged:      c.FlaggedQuestions,
		SkippedCount:          c.QuestionsSkipped,
		TotalAnswerChanges:    c.AnswerChanges,
		DifficultyPerformance: make(map[string]DifficultyStats),
	}

	byID := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		q := &questions[i]
		byID[q.ID] = q
		switch q.Type {
		case model.QuestionTypeDomino:
			sum.DominoStats.Total++
		case model.QuestionTypeMultipleChoice:
			sum.MultipleChoiceStats.Total++
			sum.MultipleChoiceStats.TotalPropositions += q.PropositionCount()
		}
		if d := strings.ToLower(q.Difficulty); d != "" {
			ds := sum.DifficultyPerformance[d]
			ds.Total++
			sum.DifficultyPerformance[d] = ds
		}
	}

	for i := range responses {
		r := &responses[i]
		sum.TotalTimeSpent += r.TimeSpent
		sum.TotalVisits += r.VisitCount
		if i == 0 || r.TimeSpent < sum.FastestQuestion {
			sum.FastestQuestion = r.TimeSpent
		}
		if r.TimeSpent > sum.SlowestQuestion {
			sum.SlowestQuestion = r.TimeSpent
		}

		if !r.Graded {
			sum.UngradedCount++
		}
		if r.IsCorrect {
			sum.CorrectCount++
		}
		if r.IsHalfCorrect {
			sum.HalfCorrectCount++
		}
		if r.IsReversed {
			sum.ReversedCount++
		}
		if r.HasAnswer() && !r.IsCorrect {
			sum.IncorrectCount++
		}

		q, ok := byID[r.QuestionID]
		if !ok {
			continue
		}
		switch q.Type {
		case model.QuestionTypeDomino:
			if r.IsCorrect {
				sum.DominoStats.Correct++
			}
			if r.IsHalfCorrect {
				sum.DominoStats.HalfCorrect++
			}
			if r.IsReversed {
				sum.DominoStats.Reversed++
			}
		case model.QuestionTypeMultipleChoice:
			for _, p := range r.PropositionResponses {
				if p.IsCorrect != nil && *p.IsCorrect {
					sum.MultipleChoiceStats.CorrectPropositions++
				}
			}
		}
		if d := strings.ToLower(q.Difficulty); d != "" && r.IsCorrect {
			ds := sum.DifficultyPerformance[d]
			ds.Correct++
			sum.DifficultyPerformance[d] = ds
		}
	}

	if n := len(responses); n > 0 {
		sum.AverageTimePerQuestion = float64(sum.TotalTimeSpent) / float64(n)
		sum.AverageVisitsPerQuestion = float64(sum.TotalVisits) / float64(n)
	}
	if sum.TotalQuestions > 0 {
		sum.CompletionRate = float64(sum.QuestionsAnswered) / float64(sum.TotalQuestions) * 100
	}
	if sum.QuestionsAnswered > 0 {
		sum.AccuracyRate = float64(sum.CorrectCount) / float64(sum.QuestionsAnswered) * 100
	}
	return sum
}
