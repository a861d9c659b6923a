package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/logitest/attempt-service/internal/model"
)

const attemptColumns = `id, test_id, candidate_id, status, start_time, end_time, expires_at,
	last_activity_at, questions_total, score, raw_score, percentage_score,
	questions_answered, questions_skipped, answer_changes, flagged_questions,
	final_stats, focus_question_id, focus_since, user_agent, ip_address,
	device, browser, created_at, updated_at`

const responseColumns = `id, attempt_id, question_id, candidate_id, domino_answer,
	proposition_responses, is_correct, is_reversed, is_half_correct, score, graded,
	time_spent_ms, reported_time_ms, visit_count, is_flagged, is_skipped,
	answer_changes, first_visit_at, last_visit_at, answered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresAttemptStore handles attempt, response and event persistence.
type PostgresAttemptStore struct {
	pool *pgxpool.Pool
	tx   *Transactor
}

// NewPostgresAttemptStore creates a new PostgresAttemptStore.
func NewPostgresAttemptStore(pool *pgxpool.Pool) *PostgresAttemptStore {
	return &PostgresAttemptStore{pool: pool, tx: NewTransactor(pool)}
}

// CreateAttempt inserts an attempt unless the candidate already has one in
// progress for the test, in which case that one is returned.
func (r *PostgresAttemptStore) CreateAttempt(ctx context.Context, a *model.TestAttempt) (*model.TestAttempt, bool, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	// A concurrent start may finalize the winner between our insert and
	// select, so retry once before giving up.
	for range 2 {
		created, err := scanAttempt(r.pool.QueryRow(ctx,
			`INSERT INTO test_attempts (id, test_id, candidate_id, status, start_time, expires_at,
			     last_activity_at, questions_total, user_agent, ip_address, device, browser)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (candidate_id, test_id) WHERE status = 'in-progress' DO NOTHING
			 RETURNING `+attemptColumns,
			id, a.TestID, a.CandidateID, model.AttemptStatusInProgress, a.StartTime, a.ExpiresAt,
			a.LastActivityAt, a.QuestionsTotal, a.UserAgent, a.IPAddress, a.Device, a.Browser,
		))
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("insert attempt: %w", err)
		}

		existing, err := scanAttempt(r.pool.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM test_attempts
			 WHERE candidate_id = $1 AND test_id = $2 AND status = 'in-progress'`,
			a.CandidateID, a.TestID,
		))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("load in-progress attempt: %w", err)
		}
	}
	return nil, false, errors.New("insert attempt: lost race twice")
}

func (r *PostgresAttemptStore) GetAttempt(ctx context.Context, id uuid.UUID) (*model.TestAttempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM test_attempts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *PostgresAttemptStore) ListByCandidate(ctx context.Context, candidateID string) ([]model.TestAttempt, error) {
	return r.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM test_attempts
		 WHERE candidate_id = $1
		 ORDER BY start_time DESC, id`, candidateID)
}

func (r *PostgresAttemptStore) ListByCandidateAndTest(ctx context.Context, candidateID string, testID uuid.UUID) ([]model.TestAttempt, error) {
	return r.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM test_attempts
		 WHERE candidate_id = $1 AND test_id = $2
		 ORDER BY start_time DESC, id`, candidateID, testID)
}

// ListByTest returns one page of a test's attempts plus the total count.
func (r *PostgresAttemptStore) ListByTest(ctx context.Context, testID uuid.UUID, f AttemptFilter) ([]model.TestAttempt, int, error) {
	where := ` WHERE test_id = $1`
	args := []any{testID}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM test_attempts"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + attemptColumns + ` FROM test_attempts` + where + ` ORDER BY start_time DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	attempts, err := r.queryAttempts(ctx, query, args...)
	return attempts, total, err
}

func (r *PostgresAttemptStore) ListStale(ctx context.Context, now, idleBefore time.Time, limit int) ([]model.TestAttempt, error) {
	return r.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM test_attempts
		 WHERE status = 'in-progress' AND (expires_at < $1 OR last_activity_at < $2)
		 ORDER BY expires_at
		 LIMIT $3`, now, idleBefore, limit)
}

func (r *PostgresAttemptStore) ListResponses(ctx context.Context, attemptID uuid.UUID) ([]model.QuestionResponse, error) {
	return queryResponses(ctx, r.pool, attemptID)
}

func (r *PostgresAttemptStore) ListEvents(ctx context.Context, attemptID uuid.UUID) ([]model.ResponseEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seq, response_id, event_type, occurred_at, data
		 FROM question_response_events
		 WHERE attempt_id = $1
		 ORDER BY seq`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.ResponseEvent, 0)
	for rows.Next() {
		var (
			e    model.ResponseEvent
			data []byte
		)
		if err := rows.Scan(&e.Seq, &e.ResponseID, &e.EventType, &e.Timestamp, &data); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			e.Data = json.RawMessage(data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// WithAttempt locks the attempt row for the duration of fn.
func (r *PostgresAttemptStore) WithAttempt(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx AttemptTx) error) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		a, err := scanAttempt(tx.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM test_attempts WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}
		return fn(ctx, &pgAttemptTx{tx: tx, attempt: a})
	})
}

func (r *PostgresAttemptStore) queryAttempts(ctx context.Context, query string, args ...any) ([]model.TestAttempt, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]model.TestAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

type pgAttemptTx struct {
	tx      pgx.Tx
	attempt *model.TestAttempt
}

func (t *pgAttemptTx) Attempt() *model.TestAttempt { return t.attempt.Clone() }

func (t *pgAttemptTx) Response(ctx context.Context, questionID uuid.UUID) (*model.QuestionResponse, error) {
	r, err := scanResponse(t.tx.QueryRow(ctx,
		`SELECT `+responseColumns+` FROM question_responses
		 WHERE attempt_id = $1 AND question_id = $2`, t.attempt.ID, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (t *pgAttemptTx) Responses(ctx context.Context) ([]model.QuestionResponse, error) {
	return queryResponses(ctx, t.tx, t.attempt.ID)
}

// SaveResponse upserts the response row. Counters are applied as SQL
// increments so the stored row stays the source of truth.
func (t *pgAttemptTx) SaveResponse(ctx context.Context, r *model.QuestionResponse, d model.ResponseDelta, ev *model.ResponseEvent) (*model.QuestionResponse, error) {
	if t.attempt.Status.IsTerminal() {
		return nil, ErrAttemptNotInProgress
	}

	var dominoJSON, propsJSON any
	if d.ReplaceAnswer {
		a := d.Answer.Normalize()
		var err error
		if dominoJSON, err = jsonOrNil(a.Domino != nil, a.Domino); err != nil {
			return nil, err
		}
		if propsJSON, err = jsonOrNil(len(a.Propositions) > 0, a.Propositions); err != nil {
			return nil, err
		}
	}

	id := r.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	saved, err := scanResponse(t.tx.QueryRow(ctx,
		`INSERT INTO question_responses AS qr (
		     id, attempt_id, question_id, candidate_id, domino_answer, proposition_responses,
		     time_spent_ms, reported_time_ms, visit_count, is_flagged, is_skipped, answer_changes,
		     first_visit_at, last_visit_at, answered_at)
		 VALUES ($1, $2, $3, $4, $6::jsonb, $7::jsonb,
		     $8, $9, $10, COALESCE($11::boolean, FALSE), COALESCE($12::boolean, FALSE), $13,
		     $14::timestamptz, $14::timestamptz, $15::timestamptz)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		     domino_answer = CASE WHEN $5::boolean THEN $6::jsonb ELSE qr.domino_answer END,
		     proposition_responses = CASE WHEN $5::boolean THEN $7::jsonb ELSE qr.proposition_responses END,
		     time_spent_ms = qr.time_spent_ms + $8,
		     reported_time_ms = qr.reported_time_ms + $9,
		     visit_count = qr.visit_count + $10,
		     is_flagged = COALESCE($11::boolean, qr.is_flagged),
		     is_skipped = COALESCE($12::boolean, qr.is_skipped),
		     answer_changes = qr.answer_changes + $13,
		     first_visit_at = COALESCE(qr.first_visit_at, $14::timestamptz),
		     last_visit_at = COALESCE($14::timestamptz, qr.last_visit_at),
		     answered_at = COALESCE($15::timestamptz, qr.answered_at),
		     updated_at = NOW()
		 RETURNING `+responseColumns,
		id, t.attempt.ID, r.QuestionID, t.attempt.CandidateID,
		d.ReplaceAnswer, dominoJSON, propsJSON,
		d.TimeSpentInc, d.ReportedTimeInc, d.VisitInc, d.Flagged, d.Skipped, d.AnswerChangesInc,
		d.VisitedAt, d.AnsweredAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert response: %w", err)
	}

	if ev != nil {
		var data any
		if len(ev.Data) > 0 {
			data = []byte(ev.Data)
		}
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO question_response_events (response_id, attempt_id, event_type, occurred_at, data)
			 VALUES ($1, $2, $3, $4, $5::jsonb)`,
			saved.ID, t.attempt.ID, ev.EventType, ev.Timestamp, data,
		); err != nil {
			return nil, fmt.Errorf("append event: %w", err)
		}
	}
	return saved, nil
}

func (t *pgAttemptTx) UpdateAttempt(ctx context.Context, u model.AttemptUpdate) error {
	var activity any
	if !u.ActivityAt.IsZero() {
		activity = u.ActivityAt
	}

	a, err := scanAttempt(t.tx.QueryRow(ctx,
		`UPDATE test_attempts SET
		     questions_answered = GREATEST(0, questions_answered + $2),
		     questions_skipped  = GREATEST(0, questions_skipped + $3),
		     answer_changes     = GREATEST(0, answer_changes + $4),
		     flagged_questions  = GREATEST(0, flagged_questions + $5),
		     last_activity_at   = COALESCE($6::timestamptz, last_activity_at),
		     focus_question_id  = CASE WHEN $7::boolean THEN $8::uuid ELSE focus_question_id END,
		     focus_since        = CASE WHEN $7::boolean THEN $9::timestamptz ELSE focus_since END,
		     updated_at         = NOW()
		 WHERE id = $1 AND status = 'in-progress'
		 RETURNING `+attemptColumns,
		t.attempt.ID,
		u.Counters.QuestionsAnswered, u.Counters.QuestionsSkipped,
		u.Counters.AnswerChanges, u.Counters.FlaggedQuestions,
		activity, u.SetFocus, u.FocusQuestionID, u.FocusSince,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAttemptNotInProgress
	}
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	t.attempt = a
	return nil
}

// Finalize freezes the attempt and writes every response grade in one
// UNNEST update.
func (t *pgAttemptTx) Finalize(ctx context.Context, f model.Finalization) error {
	final, err := json.Marshal(f.Final)
	if err != nil {
		return err
	}

	a, err := scanAttempt(t.tx.QueryRow(ctx,
		`UPDATE test_attempts SET
		     status = $2, end_time = $3, score = $4, raw_score = $5, percentage_score = $6,
		     questions_total = $7, questions_answered = $8, questions_skipped = $9,
		     answer_changes = $10, flagged_questions = $11, final_stats = $12::jsonb,
		     focus_question_id = NULL, focus_since = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'in-progress'
		 RETURNING `+attemptColumns,
		t.attempt.ID, f.Status, f.EndTime, f.Score, f.RawScore, f.PercentageScore,
		f.QuestionsTotal, f.Counters.QuestionsAnswered, f.Counters.QuestionsSkipped,
		f.Counters.AnswerChanges, f.Counters.FlaggedQuestions, final,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAttemptNotInProgress
	}
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	t.attempt = a

	if len(f.Grades) == 0 {
		return nil
	}

	n := len(f.Grades)
	ids := make([]uuid.UUID, 0, n)
	correct := make([]bool, 0, n)
	reversed := make([]bool, 0, n)
	half := make([]bool, 0, n)
	scores := make([]float64, 0, n)
	graded := make([]bool, 0, n)
	props := make([]*string, 0, n)
	for _, g := range f.Grades {
		ids = append(ids, g.ResponseID)
		correct = append(correct, g.IsCorrect)
		reversed = append(reversed, g.IsReversed)
		half = append(half, g.IsHalfCorrect)
		scores = append(scores, g.Score)
		graded = append(graded, g.Graded)
		if g.PropositionResponses == nil {
			props = append(props, nil)
			continue
		}
		raw, err := json.Marshal(g.PropositionResponses)
		if err != nil {
			return err
		}
		s := string(raw)
		props = append(props, &s)
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE question_responses AS qr
		 SET is_correct = g.is_correct,
		     is_reversed = g.is_reversed,
		     is_half_correct = g.is_half_correct,
		     score = g.score,
		     graded = g.graded,
		     proposition_responses = COALESCE(g.props::jsonb, qr.proposition_responses),
		     updated_at = NOW()
		 FROM UNNEST(
		     $1::uuid[],
		     $2::boolean[],
		     $3::boolean[],
		     $4::boolean[],
		     $5::float8[],
		     $6::boolean[],
		     $7::text[]
		 ) AS g (id, is_correct, is_reversed, is_half_correct, score, graded, props)
		 WHERE qr.id = g.id AND qr.attempt_id = $8`,
		ids, correct, reversed, half, scores, graded, props, t.attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("write grades: %w", err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryResponses(ctx context.Context, q querier, attemptID uuid.UUID) ([]model.QuestionResponse, error) {
	rows, err := q.Query(ctx,
		`SELECT `+responseColumns+` FROM question_responses
		 WHERE attempt_id = $1
		 ORDER BY created_at, question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := make([]model.QuestionResponse, 0)
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, *r)
	}
	return responses, rows.Err()
}

func scanAttempt(row rowScanner) (*model.TestAttempt, error) {
	var (
		a     model.TestAttempt
		final []byte
	)
	err := row.Scan(
		&a.ID, &a.TestID, &a.CandidateID, &a.Status, &a.StartTime, &a.EndTime, &a.ExpiresAt,
		&a.LastActivityAt, &a.QuestionsTotal, &a.Score, &a.RawScore, &a.PercentageScore,
		&a.Metrics.QuestionsAnswered, &a.Metrics.QuestionsSkipped,
		&a.Metrics.AnswerChanges, &a.Metrics.FlaggedQuestions,
		&final, &a.FocusQuestionID, &a.FocusSince, &a.UserAgent, &a.IPAddress,
		&a.Device, &a.Browser, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(final) > 0 {
		var fs model.FinalStats
		if err := json.Unmarshal(final, &fs); err != nil {
			return nil, fmt.Errorf("decode final stats: %w", err)
		}
		a.Metrics.Final = &fs
	}
	return &a, nil
}

func scanResponse(row rowScanner) (*model.QuestionResponse, error) {
	var (
		r      model.QuestionResponse
		domino []byte
		props  []byte
	)
	err := row.Scan(
		&r.ID, &r.AttemptID, &r.QuestionID, &r.CandidateID, &domino, &props,
		&r.IsCorrect, &r.IsReversed, &r.IsHalfCorrect, &r.Score, &r.Graded,
		&r.TimeSpent, &r.ReportedTime, &r.VisitCount, &r.IsFlagged, &r.IsSkipped,
		&r.AnswerChanges, &r.FirstVisitAt, &r.LastVisitAt, &r.AnsweredAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(domino) > 0 {
		if err := json.Unmarshal(domino, &r.DominoAnswer); err != nil {
			return nil, fmt.Errorf("decode domino answer: %w", err)
		}
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &r.PropositionResponses); err != nil {
			return nil, fmt.Errorf("decode proposition responses: %w", err)
		}
	}
	return &r, nil
}

func jsonOrNil(present bool, v any) (any, error) {
	if !present {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
