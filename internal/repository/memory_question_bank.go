package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/model"
)

// QuestionBankFile is the on-disk format read by LoadQuestionBankFile.
type QuestionBankFile struct {
	Tests     []model.Test     `json:"tests"`
	Questions []model.Question `json:"questions"`
}

// MemoryQuestionBank serves a fixed set of tests and questions.
type MemoryQuestionBank struct {
	tests     map[uuid.UUID]model.Test
	questions map[uuid.UUID]model.Question
	byTest    map[uuid.UUID][]uuid.UUID
}

// NewMemoryQuestionBank indexes tests and questions. TotalQuestions is
// filled from the questions when a test leaves it at zero.
func NewMemoryQuestionBank(tests []model.Test, questions []model.Question) *MemoryQuestionBank {
	b := &MemoryQuestionBank{
		tests:     make(map[uuid.UUID]model.Test, len(tests)),
		questions: make(map[uuid.UUID]model.Question, len(questions)),
		byTest:    make(map[uuid.UUID][]uuid.UUID),
	}
	for _, q := range questions {
		b.questions[q.ID] = q
		b.byTest[q.TestID] = append(b.byTest[q.TestID], q.ID)
	}
	for testID, ids := range b.byTest {
		sort.Slice(ids, func(i, j int) bool {
			return b.questions[ids[i]].QuestionNumber < b.questions[ids[j]].QuestionNumber
		})
		b.byTest[testID] = ids
	}
	for _, t := range tests {
		if t.TotalQuestions == 0 {
			t.TotalQuestions = len(b.byTest[t.ID])
		}
		b.tests[t.ID] = t
	}
	return b
}

// ReadQuestionBankFile reads and validates a JSON question bank.
func ReadQuestionBankFile(path string) (*QuestionBankFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var f QuestionBankFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}
	counts := make(map[uuid.UUID]int, len(f.Tests))
	for _, t := range f.Tests {
		counts[t.ID] = 0
	}
	for i := range f.Questions {
		q := &f.Questions[i]
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("question %s: %w", q.ID, err)
		}
		if _, ok := counts[q.TestID]; !ok {
			return nil, fmt.Errorf("question %s references unknown test %s", q.ID, q.TestID)
		}
		counts[q.TestID]++
	}
	for i := range f.Tests {
		if f.Tests[i].TotalQuestions == 0 {
			f.Tests[i].TotalQuestions = counts[f.Tests[i].ID]
		}
	}
	return &f, nil
}

// LoadQuestionBankFile reads a JSON question bank from disk.
func LoadQuestionBankFile(path string) (*MemoryQuestionBank, error) {
	f, err := ReadQuestionBankFile(path)
	if err != nil {
		return nil, err
	}
	return NewMemoryQuestionBank(f.Tests, f.Questions), nil
}

func (b *MemoryQuestionBank) GetTest(_ context.Context, id uuid.UUID) (*model.Test, error) {
	t, ok := b.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (b *MemoryQuestionBank) GetQuestion(_ context.Context, id uuid.UUID) (*model.Question, error) {
	q, ok := b.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &q, nil
}

func (b *MemoryQuestionBank) ListQuestions(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	ids := b.byTest[testID]
	out := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.questions[id])
	}
	return out, nil
}

func (b *MemoryQuestionBank) ListActiveTests(_ context.Context) ([]model.Test, error) {
	var out []model.Test
	for _, t := range b.tests {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
