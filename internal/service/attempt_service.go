package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/grading"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/logitest/attempt-service/internal/repository"
	"github.com/logitest/attempt-service/internal/tracking"
	"github.com/logitest/attempt-service/internal/validator"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/logitest/attempt-service/internal/service"

// AttemptOptions tunes start() behaviour.
type AttemptOptions struct {
	StartPolicy config.StartPolicy
	AllowRetake bool
}

// StartResult is returned by Start. Resumed is true when an existing
// in-progress attempt was handed back instead of a new one.
type StartResult struct {
	Attempt *model.TestAttempt
	Resumed bool
}

// CompleteResult is returned by Complete. AlreadyFinalized is true when
// the attempt was terminal before the call and nothing was recomputed.
type CompleteResult struct {
	Attempt          *model.TestAttempt
	AlreadyFinalized bool
}

// AnswerResult is returned by SubmitAnswer. Changed is false for an
// identical resubmission.
type AnswerResult struct {
	Response  *model.QuestionResponse
	Changed   bool
	EventType model.EventType
}

// QuestionView pairs a question with the candidate's response to it.
type QuestionView struct {
	Question model.Question          `json:"question"`
	Response *model.QuestionResponse `json:"response,omitempty"`
}

// AttemptQuestions is the attempt together with every question of its test.
type AttemptQuestions struct {
	Attempt   *model.TestAttempt `json:"attempt"`
	Questions []QuestionView     `json:"questions"`
}

// AttemptService is the attempt state machine. Every mutation of an
// attempt runs inside AttemptStore.WithAttempt, where ownership and status
// are checked against the locked row.
type AttemptService struct {
	store     repository.AttemptStore
	bank      repository.QuestionBank
	engine    *grading.Engine
	publisher FinalizationPublisher
	opts      AttemptOptions
	now       func() time.Time
	tracer    trace.Tracer
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	store repository.AttemptStore,
	bank repository.QuestionBank,
	engine *grading.Engine,
	publisher FinalizationPublisher,
	opts AttemptOptions,
	log zerolog.Logger,
) *AttemptService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if opts.StartPolicy == "" {
		opts.StartPolicy = config.StartPolicyResume
	}
	return &AttemptService{
		store:     store,
		bank:      bank,
		engine:    engine,
		publisher: publisher,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer(tracerName),
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// SetClock replaces the time source. Tests use it to move past deadlines.
func (s *AttemptService) SetClock(now func() time.Time) {
	s.now = now
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// Start opens an attempt for the caller on testID, or hands back the one
// already in progress.
func (s *AttemptService) Start(ctx context.Context, caller model.Identity, testID uuid.UUID, client model.ClientInfo) (*StartResult, error) {
	test, err := s.bank.GetTest(ctx, testID)
	if err != nil {
		return nil, translate(err)
	}
	if !test.IsActive {
		return nil, ErrTestNotAvailable
	}

	previous, err := s.store.ListByCandidateAndTest(ctx, caller.UserID, testID)
	if err != nil {
		return nil, fmt.Errorf("list previous attempts: %w", err)
	}
	for i := range previous {
		if previous[i].Status == model.AttemptStatusInProgress {
			return s.resume(ctx, previous[i].ID)
		}
	}
	if len(previous) > 0 && !s.opts.AllowRetake {
		return nil, ErrAlreadyCompleted
	}

	questions, err := s.bank.ListQuestions(ctx, testID)
	if err != nil {
		return nil, translate(err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: test has no questions", ErrTestNotAvailable)
	}

	now := s.now()
	attempt, created, err := s.store.CreateAttempt(ctx, &model.TestAttempt{
		ID:             uuid.New(),
		TestID:         testID,
		CandidateID:    caller.UserID,
		Status:         model.AttemptStatusInProgress,
		StartTime:      now,
		ExpiresAt:      now.Add(test.Duration()),
		LastActivityAt: now,
		QuestionsTotal: len(questions),
		UserAgent:      client.UserAgent,
		IPAddress:      client.IPAddress,
		Device:         client.Device(),
		Browser:        client.Browser(),
	})
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	if !created {
		return s.resume(ctx, attempt.ID)
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("test_id", testID.String()).
		Str("candidate_id", caller.UserID).
		Time("expires_at", attempt.ExpiresAt).
		Msg("Attempt started")

	repository.HydrateMetrics(attempt, nil)
	return &StartResult{Attempt: attempt}, nil
}

func (s *AttemptService) resume(ctx context.Context, attemptID uuid.UUID) (*StartResult, error) {
	if s.opts.StartPolicy == config.StartPolicyConflict {
		return nil, ErrConflict
	}

	var resumed *model.TestAttempt
	err := s.store.WithAttempt(ctx, attemptID, func(ctx context.Context, tx repository.AttemptTx) error {
		if err := tx.UpdateAttempt(ctx, model.AttemptUpdate{ActivityAt: s.now()}); err != nil {
			return err
		}
		resumed = tx.Attempt()
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	responses, err := s.store.ListResponses(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	repository.HydrateMetrics(resumed, responses)

	s.log.Debug().Str("attempt_id", attemptID.String()).Msg("Attempt resumed")
	return &StartResult{Attempt: resumed, Resumed: true}, nil
}

// Complete finalizes the caller's attempt and freezes its score. Calling
// it on a finalized attempt returns the stored result unchanged.
func (s *AttemptService) Complete(ctx context.Context, caller model.Identity, attemptID uuid.UUID) (*CompleteResult, error) {
	ctx, span := s.tracer.Start(ctx, "AttemptService.Complete",
		trace.WithAttributes(attribute.String("attempt.id", attemptID.String())))
	defer span.End()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, translate(err)
	}
	if a.CandidateID != caller.UserID {
		return nil, ErrForbidden
	}
	questions, err := s.bank.ListQuestions(ctx, a.TestID)
	if err != nil {
		return nil, translate(err)
	}

	out, err := s.finalizeWith(ctx, attemptID, questions, func(a *model.TestAttempt, now time.Time) (model.AttemptStatus, bool, error) {
		if a.CandidateID != caller.UserID {
			return "", false, ErrForbidden
		}
		if now.After(a.ExpiresAt) {
			return model.AttemptStatusTimedOut, true, nil
		}
		return model.AttemptStatusCompleted, true, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("attempt.already_finalized", out.already),
		attribute.String("attempt.status", string(out.attempt.Status)),
	)
	return &CompleteResult{Attempt: out.attempt, AlreadyFinalized: out.already}, nil
}

// ForceFinalize closes an attempt that is past its deadline (timed-out) or
// has been idle for longer than idleGrace (abandoned). It reports whether
// this call made the transition.
func (s *AttemptService) ForceFinalize(ctx context.Context, attemptID uuid.UUID, idleGrace time.Duration) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "AttemptService.ForceFinalize",
		trace.WithAttributes(attribute.String("attempt.id", attemptID.String())))
	defer span.End()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return false, translate(err)
	}
	if a.Status.IsTerminal() {
		return false, nil
	}
	questions, err := s.bank.ListQuestions(ctx, a.TestID)
	if err != nil {
		return false, translate(err)
	}

	out, err := s.finalizeWith(ctx, attemptID, questions, func(a *model.TestAttempt, now time.Time) (model.AttemptStatus, bool, error) {
		switch {
		case now.After(a.ExpiresAt):
			return model.AttemptStatusTimedOut, true, nil
		case idleGrace > 0 && now.Sub(a.LastActivityAt) > idleGrace:
			return model.AttemptStatusAbandoned, true, nil
		}
		return "", false, nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return out.finalized, nil
}

// ReapStale force-finalizes up to limit stale attempts and returns how
// many it closed.
func (s *AttemptService) ReapStale(ctx context.Context, idleGrace time.Duration, limit int) (int, error) {
	now := s.now()
	stale, err := s.store.ListStale(ctx, now, now.Add(-idleGrace), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale attempts: %w", err)
	}

	reaped := 0
	for i := range stale {
		ok, err := s.ForceFinalize(ctx, stale[i].ID, idleGrace)
		if err != nil {
			s.log.Warn().Err(err).Str("attempt_id", stale[i].ID.String()).Msg("Failed to finalize stale attempt")
			continue
		}
		if ok {
			reaped++
		}
	}
	return reaped, nil
}

type finalizeOutcome struct {
	attempt   *model.TestAttempt
	already   bool
	finalized bool
}

// finalizeWith runs decide against the locked attempt and, when it picks a
// status, grades and freezes the attempt in the same unit.
func (s *AttemptService) finalizeWith(
	ctx context.Context,
	attemptID uuid.UUID,
	questions []model.Question,
	decide func(a *model.TestAttempt, now time.Time) (model.AttemptStatus, bool, error),
) (*finalizeOutcome, error) {
	out := &finalizeOutcome{}
	err := s.store.WithAttempt(ctx, attemptID, func(ctx context.Context, tx repository.AttemptTx) error {
		a := tx.Attempt()
		now := s.now()
		status, ok, err := decide(a, now)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			out.attempt, out.already = a, true
			return nil
		}
		if !ok {
			out.attempt = a
			return nil
		}
		if err := s.finalize(ctx, tx, questions, status, now); err != nil {
			return err
		}
		out.attempt, out.finalized = tx.Attempt(), true
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	responses, err := s.store.ListResponses(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	repository.HydrateMetrics(out.attempt, responses)

	if out.finalized {
		a := out.attempt
		s.log.Info().
			Str("attempt_id", a.ID.String()).
			Str("candidate_id", a.CandidateID).
			Str("status", string(a.Status)).
			Float64("score", a.Score).
			Float64("percentage_score", a.PercentageScore).
			Msg("Attempt finalized")

		if err := s.publisher.PublishFinalized(ctx, finalizedEvent(a)); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to publish finalized attempt")
		}
	}
	return out, nil
}

// finalize closes the open focus interval, marks untouched answers as
// skipped, grades every response and freezes the attempt.
func (s *AttemptService) finalize(ctx context.Context, tx repository.AttemptTx, questions []model.Question, status model.AttemptStatus, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "AttemptService.finalize")
	defer span.End()

	a := tx.Attempt()
	if a.FocusQuestionID != nil && a.FocusSince != nil {
		if ms := focusElapsed(a, now); ms > 0 {
			leave := tracking.Leave(now, tracking.LeaveData{ElapsedMs: ms, Reason: tracking.LeaveReasonFinalized})
			if err := creditTime(ctx, tx, a, *a.FocusQuestionID, leave); err != nil {
				return err
			}
		}
	}

	responses, err := tx.Responses(ctx)
	if err != nil {
		return err
	}
	for i := range responses {
		r := &responses[i]
		if r.HasAnswer() {
			continue
		}
		ev, ok := tracking.Skip(r, now, tracking.SkipReasonUnanswered)
		if !ok {
			continue
		}
		rd, _, err := tracking.Apply(r, ev)
		if err != nil {
			return err
		}
		if _, err := tx.SaveResponse(ctx, r, rd, &ev); err != nil {
			return err
		}
	}
	if responses, err = tx.Responses(ctx); err != nil {
		return err
	}

	summary, graded := s.engine.ScoreAttempt(questions, responses, a.QuestionsTotal)
	grades := make([]model.ResponseGrade, 0, len(graded))
	for _, g := range graded {
		if g.Err != nil {
			s.log.Warn().
				Err(g.Err).
				Str("attempt_id", a.ID.String()).
				Str("response_id", g.ResponseID.String()).
				Msg("Response left ungraded")
		}
		grades = append(grades, model.ResponseGrade{
			ResponseID:           g.ResponseID,
			IsCorrect:            g.Outcome.IsCorrect,
			IsReversed:           g.Outcome.IsReversed,
			IsHalfCorrect:        g.Outcome.IsHalfCorrect,
			Score:                g.Outcome.Score,
			Graded:               g.Graded,
			PropositionResponses: g.Outcome.Propositions,
		})
	}

	total := summary.QuestionsTotal
	counters := tracking.Summarize(responses)

	span.SetAttributes(
		attribute.String("attempt.status", string(status)),
		attribute.Float64("attempt.score", summary.Score),
		attribute.Int("attempt.ungraded", summary.Ungraded),
	)

	return tx.Finalize(ctx, model.Finalization{
		Status:          status,
		EndTime:         now,
		Score:           summary.Score,
		RawScore:        summary.RawScore,
		PercentageScore: summary.PercentageScore,
		QuestionsTotal:  total,
		Counters:        counters,
		Final:           finalStats(summary, counters, responses, total),
		Grades:          grades,
	})
}

func finalStats(sum grading.Summary, c model.AttemptCounters, responses []model.QuestionResponse, total int) model.FinalStats {
	fs := model.FinalStats{
		CorrectAnswers:        sum.Correct,
		HalfCorrectAnswers:    sum.HalfCorrect,
		ReversedAnswers:       sum.Reversed,
		UngradedResponses:     sum.Ungraded,
		PropositionsCorrect:   sum.PropositionsCorrect,
		PropositionsAttempted: sum.PropositionsAttempted,
	}
	if sum.PropositionsAttempted > 0 {
		fs.PropositionAccuracy = float64(sum.PropositionsCorrect) / float64(sum.PropositionsAttempted) * 100
	}
	if total > 0 {
		fs.CompletionRate = float64(c.QuestionsAnswered) / float64(total) * 100
	}
	for i := range responses {
		fs.TotalTimeSpent += responses[i].TimeSpent
		fs.TotalVisits += responses[i].VisitCount
	}
	if n := len(responses); n > 0 {
		fs.AverageTimePerQuestion = float64(fs.TotalTimeSpent) / float64(n)
		fs.AverageVisitsPerQuestion = float64(fs.TotalVisits) / float64(n)
	}
	return fs
}

// ─── Interactions ───────────────────────────────────────────────────

// Visit records that the caller opened questionID. Time since the previous
// visit is credited to the question being left.
func (s *AttemptService) Visit(ctx context.Context, caller model.Identity, attemptID, questionID uuid.UUID) (*model.QuestionResponse, error) {
	q, err := s.question(ctx, questionID)
	if err != nil {
		return nil, err
	}

	var out *model.QuestionResponse
	err = s.withQuestion(ctx, caller, attemptID, q, func(ctx context.Context, u *unit) error {
		var data tracking.VisitData
		if prev := u.attempt.FocusQuestionID; prev != nil && u.attempt.FocusSince != nil {
			elapsed := focusElapsed(u.attempt, u.now)
			data.FromQuestionID = prev.String()
			data.ElapsedMs = elapsed
			if elapsed > 0 {
				leave := tracking.Leave(u.now, tracking.LeaveData{ElapsedMs: elapsed, ToQuestionID: q.ID.String()})
				if err := creditTime(ctx, u.tx, u.attempt, *prev, leave); err != nil {
					return err
				}
			}
		}

		qid, since := q.ID, u.now
		saved, err := u.record(ctx, tracking.Visit(u.now, data), model.AttemptUpdate{
			SetFocus:        true,
			FocusQuestionID: &qid,
			FocusSince:      &since,
		})
		out = saved
		return err
	})
	return out, err
}

// SubmitAnswer stores payload as the caller's answer to questionID.
func (s *AttemptService) SubmitAnswer(ctx context.Context, caller model.Identity, attemptID, questionID uuid.UUID, payload model.AnswerPayload) (*AnswerResult, error) {
	q, err := s.question(ctx, questionID)
	if err != nil {
		return nil, err
	}
	// A broken answer key is a bank fault, not a bad request.
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("answer key of question %s: %w", questionID, err)
	}
	if err := validator.ValidateAnswer(q, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	res := &AnswerResult{}
	err = s.withQuestion(ctx, caller, attemptID, q, func(ctx context.Context, u *unit) error {
		ev, changed := tracking.Answer(u.response, payload, u.now)
		if !changed {
			res.Response = u.response
			return u.touch(ctx)
		}
		saved, err := u.record(ctx, ev, model.AttemptUpdate{})
		res.Response, res.Changed, res.EventType = saved, true, ev.EventType
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ToggleFlag flips the flag on questionID.
func (s *AttemptService) ToggleFlag(ctx context.Context, caller model.Identity, attemptID, questionID uuid.UUID) (*model.QuestionResponse, error) {
	q, err := s.question(ctx, questionID)
	if err != nil {
		return nil, err
	}

	var out *model.QuestionResponse
	err = s.withQuestion(ctx, caller, attemptID, q, func(ctx context.Context, u *unit) error {
		saved, err := u.record(ctx, tracking.ToggleFlag(u.response, u.now), model.AttemptUpdate{})
		out = saved
		return err
	})
	return out, err
}

// Skip marks questionID as skipped and clears any answer to it.
func (s *AttemptService) Skip(ctx context.Context, caller model.Identity, attemptID, questionID uuid.UUID) (*model.QuestionResponse, error) {
	q, err := s.question(ctx, questionID)
	if err != nil {
		return nil, err
	}

	var out *model.QuestionResponse
	err = s.withQuestion(ctx, caller, attemptID, q, func(ctx context.Context, u *unit) error {
		ev, ok := tracking.Skip(u.response, u.now, "")
		if !ok {
			out = u.response
			return u.touch(ctx)
		}
		saved, err := u.record(ctx, ev, model.AttemptUpdate{})
		out = saved
		return err
	})
	return out, err
}

// ReportTime adds client-measured milliseconds to the response. The value
// is kept for reference only; server-side attribution stays authoritative.
func (s *AttemptService) ReportTime(ctx context.Context, caller model.Identity, attemptID, questionID uuid.UUID, ms int64) (*model.QuestionResponse, error) {
	if ms <= 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation,
			&validator.FieldError{Field: "time_spent_ms", Message: "must be a positive number of milliseconds"})
	}
	q, err := s.question(ctx, questionID)
	if err != nil {
		return nil, err
	}

	var out *model.QuestionResponse
	err = s.withQuestion(ctx, caller, attemptID, q, func(ctx context.Context, u *unit) error {
		saved, err := u.tx.SaveResponse(ctx, u.response, model.ResponseDelta{ReportedTimeInc: ms}, nil)
		if err != nil {
			return err
		}
		out = saved
		return u.touch(ctx)
	})
	return out, err
}

// unit is the state of one guarded interaction.
type unit struct {
	tx       repository.AttemptTx
	attempt  *model.TestAttempt
	response *model.QuestionResponse
	now      time.Time
}

// record applies ev to the response and its effect to the attempt counters.
func (u *unit) record(ctx context.Context, ev model.ResponseEvent, update model.AttemptUpdate) (*model.QuestionResponse, error) {
	rd, ad, err := tracking.Apply(u.response, ev)
	if err != nil {
		return nil, err
	}

	saved, err := u.tx.SaveResponse(ctx, u.response, rd, &ev)
	if err != nil {
		return nil, err
	}
	update.Counters = update.Counters.Add(ad)
	update.ActivityAt = u.now
	if err := u.tx.UpdateAttempt(ctx, update); err != nil {
		return nil, err
	}
	return saved, nil
}

func (u *unit) touch(ctx context.Context) error {
	return u.tx.UpdateAttempt(ctx, model.AttemptUpdate{ActivityAt: u.now})
}

// withQuestion locks the attempt, applies the guard and loads the
// response to q before calling fn.
func (s *AttemptService) withQuestion(ctx context.Context, caller model.Identity, attemptID uuid.UUID, q *model.Question, fn func(ctx context.Context, u *unit) error) error {
	err := s.store.WithAttempt(ctx, attemptID, func(ctx context.Context, tx repository.AttemptTx) error {
		a := tx.Attempt()
		if err := guard(a, caller); err != nil {
			return err
		}
		if q.TestID != a.TestID {
			return fmt.Errorf("%w: question %s is not part of this test", ErrNotFound, q.ID)
		}
		r, err := tx.Response(ctx, q.ID)
		if err != nil {
			return err
		}
		if r == nil {
			r = model.NewQuestionResponse(a.ID, q.ID, a.CandidateID)
		}
		return fn(ctx, &unit{tx: tx, attempt: a, response: r, now: s.now()})
	})
	return translate(err)
}

// guard allows a mutation only by the owner of an in-progress attempt.
func guard(a *model.TestAttempt, caller model.Identity) error {
	if a.CandidateID != caller.UserID {
		return ErrForbidden
	}
	if a.Status.IsTerminal() {
		return fmt.Errorf("%w: attempt is %s", ErrInvalidState, a.Status)
	}
	return nil
}

func (s *AttemptService) question(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q, err := s.bank.GetQuestion(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return q, nil
}

// creditTime appends a leave event to the response of questionID so the
// time it carries is folded from the log like every other counter.
func creditTime(ctx context.Context, tx repository.AttemptTx, a *model.TestAttempt, questionID uuid.UUID, ev model.ResponseEvent) error {
	r, err := tx.Response(ctx, questionID)
	if err != nil {
		return err
	}
	if r == nil {
		r = model.NewQuestionResponse(a.ID, questionID, a.CandidateID)
	}
	rd, _, err := tracking.Apply(r, ev)
	if err != nil {
		return err
	}
	_, err = tx.SaveResponse(ctx, r, rd, &ev)
	return err
}

// focusElapsed is the time on the focused question, cut off at the deadline.
func focusElapsed(a *model.TestAttempt, now time.Time) int64 {
	end := now
	if end.After(a.ExpiresAt) {
		end = a.ExpiresAt
	}
	ms := end.Sub(*a.FocusSince).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// ─── Queries ────────────────────────────────────────────────────────

// Get returns the attempt with its per-question metrics.
func (s *AttemptService) Get(ctx context.Context, caller model.Identity, attemptID uuid.UUID) (*model.TestAttempt, error) {
	a, err := s.visible(ctx, caller, attemptID)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListResponses(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	repository.HydrateMetrics(a, responses)
	return a, nil
}

// GetQuestions returns the attempt and its test's questions. Answer keys
// are stripped until the attempt is finalized.
func (s *AttemptService) GetQuestions(ctx context.Context, caller model.Identity, attemptID uuid.UUID) (*AttemptQuestions, error) {
	a, err := s.visible(ctx, caller, attemptID)
	if err != nil {
		return nil, err
	}

	var (
		responses []model.QuestionResponse
		questions []model.Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		responses, err = s.store.ListResponses(gctx, attemptID)
		return err
	})
	g.Go(func() error {
		var err error
		questions, err = s.bank.ListQuestions(gctx, a.TestID)
		return translate(err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	repository.HydrateMetrics(a, responses)

	byQuestion := make(map[uuid.UUID]*model.QuestionResponse, len(responses))
	for i := range responses {
		byQuestion[responses[i].QuestionID] = &responses[i]
	}

	views := make([]QuestionView, 0, len(questions))
	for i := range questions {
		q := questions[i]
		if !a.Status.IsTerminal() {
			q = q.ForCandidate()
		}
		views = append(views, QuestionView{Question: q, Response: byQuestion[q.ID]})
	}
	return &AttemptQuestions{Attempt: a, Questions: views}, nil
}

// ListByCandidate returns every attempt of candidateID, newest first.
func (s *AttemptService) ListByCandidate(ctx context.Context, caller model.Identity, candidateID string) ([]model.TestAttempt, error) {
	if !caller.CanView(candidateID) {
		return nil, ErrForbidden
	}
	return s.store.ListByCandidate(ctx, candidateID)
}

// GetByCandidateAndTest returns the latest attempt of candidateID on testID.
func (s *AttemptService) GetByCandidateAndTest(ctx context.Context, caller model.Identity, candidateID string, testID uuid.UUID) (*model.TestAttempt, error) {
	if !caller.CanView(candidateID) {
		return nil, ErrForbidden
	}
	attempts, err := s.store.ListByCandidateAndTest(ctx, candidateID, testID)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("%w: no attempt for this test", ErrNotFound)
	}
	latest := &attempts[0]
	responses, err := s.store.ListResponses(ctx, latest.ID)
	if err != nil {
		return nil, err
	}
	repository.HydrateMetrics(latest, responses)
	return latest, nil
}

// ListByTest returns one page of attempts on testID. Staff only.
func (s *AttemptService) ListByTest(ctx context.Context, caller model.Identity, testID uuid.UUID, f repository.AttemptFilter) ([]model.TestAttempt, int, error) {
	if !caller.Role.IsStaff() {
		return nil, 0, ErrForbidden
	}
	return s.store.ListByTest(ctx, testID, f)
}

func (s *AttemptService) visible(ctx context.Context, caller model.Identity, attemptID uuid.UUID) (*model.TestAttempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, translate(err)
	}
	if !caller.CanView(a.CandidateID) {
		return nil, ErrForbidden
	}
	return a, nil
}
