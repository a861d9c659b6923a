package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/logitest/attempt-service/internal/model"
)

// QuestionBankRepository reads tests and questions from PostgreSQL.
type QuestionBankRepository struct {
	pool *pgxpool.Pool
	tx   *Transactor
}

// NewQuestionBankRepository creates a new QuestionBankRepository.
func NewQuestionBankRepository(pool *pgxpool.Pool) *QuestionBankRepository {
	return &QuestionBankRepository{pool: pool, tx: NewTransactor(pool)}
}

// Import upserts tests and questions in one transaction. Used to seed the
// read model outside of the authoring service.
func (r *QuestionBankRepository) Import(ctx context.Context, tests []model.Test, questions []model.Question) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range tests {
			batch.Queue(
				`INSERT INTO tests (id, name, description, duration_minutes, total_questions, is_active)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (id) DO UPDATE SET
				   name = EXCLUDED.name,
				   description = EXCLUDED.description,
				   duration_minutes = EXCLUDED.duration_minutes,
				   total_questions = EXCLUDED.total_questions,
				   is_active = EXCLUDED.is_active`,
				t.ID, t.Name, t.Description, t.DurationMinutes, t.TotalQuestions, t.IsActive)
		}
		for i := range questions {
			q := &questions[i]
			content, err := q.EncodeContent()
			if err != nil {
				return fmt.Errorf("question %s: %w", q.ID, err)
			}
			batch.Queue(
				`INSERT INTO questions (id, test_id, question_number, question_type, instruction, difficulty, content)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (id) DO UPDATE SET
				   question_number = EXCLUDED.question_number,
				   question_type = EXCLUDED.question_type,
				   instruction = EXCLUDED.instruction,
				   difficulty = EXCLUDED.difficulty,
				   content = EXCLUDED.content,
				   is_active = TRUE`,
				q.ID, q.TestID, q.QuestionNumber, string(q.Type), q.Instruction, q.Difficulty, content)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *QuestionBankRepository) GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, duration_minutes, total_questions, is_active, created_at
		 FROM tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.DurationMinutes, &t.TotalQuestions, &t.IsActive, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListActiveTests returns every test candidates can currently start.
func (r *QuestionBankRepository) ListActiveTests(ctx context.Context) ([]model.Test, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, duration_minutes, total_questions, is_active, created_at
		 FROM tests WHERE is_active
		 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []model.Test
	for rows.Next() {
		var t model.Test
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.DurationMinutes, &t.TotalQuestions, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// GetQuestion returns a question with its answer key. Undecodable stored
// content is an error wrapping model.ErrInvalidQuestion.
func (r *QuestionBankRepository) GetQuestion(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx,
		`SELECT id, test_id, question_number, question_type, instruction, difficulty, content
		 FROM questions WHERE id = $1 AND is_active`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListQuestions returns the active questions of a test ordered by number.
// A question with undecodable content is kept without a payload so grading
// records its response as ungraded instead of failing the whole attempt.
func (r *QuestionBankRepository) ListQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, question_number, question_type, instruction, difficulty, content
		 FROM questions WHERE test_id = $1 AND is_active
		 ORDER BY question_number`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]model.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil && !(q != nil && errors.Is(err, model.ErrInvalidQuestion)) {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// scanQuestion reads one question row. When the content cannot be decoded
// it returns the question without a payload together with an error
// wrapping model.ErrInvalidQuestion.
func scanQuestion(row rowScanner) (*model.Question, error) {
	var (
		q       model.Question
		content []byte
	)
	if err := row.Scan(&q.ID, &q.TestID, &q.QuestionNumber, &q.Type, &q.Instruction, &q.Difficulty, &content); err != nil {
		return nil, err
	}
	if err := q.DecodeContent(content); err != nil {
		q.Domino, q.MultipleChoice = nil, nil
		if errors.Is(err, model.ErrInvalidQuestion) {
			return &q, fmt.Errorf("question %s: %w", q.ID, err)
		}
		return &q, fmt.Errorf("question %s: %w: %w", q.ID, model.ErrInvalidQuestion, err)
	}
	return &q, nil
}
