package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/model"
)

func writeBank(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bank.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadQuestionBankFile_Example(t *testing.T) {
	f, err := ReadQuestionBankFile(filepath.Join("..", "..", "config", "question_bank.example.json"))
	if err != nil {
		t.Fatalf("example bank: %v", err)
	}
	if len(f.Tests) != 1 || len(f.Questions) != 2 {
		t.Fatalf("got %d tests, %d questions", len(f.Tests), len(f.Questions))
	}
	if f.Tests[0].TotalQuestions != 2 {
		t.Errorf("total_questions = %d, want 2 (filled from questions)", f.Tests[0].TotalQuestions)
	}
}

func TestReadQuestionBankFile_Rejects(t *testing.T) {
	testID := uuid.New()
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"tests": [`},
		{"two editable tiles", `{"tests":[{"id":"` + testID.String() + `","name":"t","duration_minutes":5,"is_active":true}],
			"questions":[{"id":"` + uuid.NewString() + `","test_id":"` + testID.String() + `","question_number":1,
			"question_type":"DominoQuestion","domino":{"tiles":[{"id":1,"is_editable":true},{"id":2,"is_editable":true}],
			"correct_answer":{"tile_id":1,"top_value":1,"bottom_value":1}}}]}`},
		{"unknown test", `{"tests":[],
			"questions":[{"id":"` + uuid.NewString() + `","test_id":"` + testID.String() + `","question_number":1,
			"question_type":"MultipleChoiceQuestion","multiple_choice":{"propositions":[{"text":"p","correct_evaluation":"V"}]}}]}`},
		{"abstain as key", `{"tests":[{"id":"` + testID.String() + `","name":"t","duration_minutes":5,"is_active":true}],
			"questions":[{"id":"` + uuid.NewString() + `","test_id":"` + testID.String() + `","question_number":1,
			"question_type":"MultipleChoiceQuestion","multiple_choice":{"propositions":[{"text":"p","correct_evaluation":"X"}]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadQuestionBankFile(writeBank(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMemoryQuestionBank_OrdersByNumber(t *testing.T) {
	testID := uuid.New()
	mc := func(n int) model.Question {
		return model.Question{
			ID: uuid.New(), TestID: testID, QuestionNumber: n, Type: model.QuestionTypeMultipleChoice,
			MultipleChoice: &model.MultipleChoiceQuestion{Propositions: []model.Proposition{{Text: "p", CorrectEvaluation: model.EvaluationTrue}}},
		}
	}
	bank := NewMemoryQuestionBank(
		[]model.Test{{ID: testID, Name: "t", DurationMinutes: 10, IsActive: true}},
		[]model.Question{mc(3), mc(1), mc(2)},
	)
	ctx := context.Background()

	qs, err := bank.ListQuestions(ctx, testID)
	if err != nil {
		t.Fatal(err)
	}
	for i, q := range qs {
		if q.QuestionNumber != i+1 {
			t.Fatalf("position %d holds question %d", i, q.QuestionNumber)
		}
	}
	test, err := bank.GetTest(ctx, testID)
	if err != nil {
		t.Fatal(err)
	}
	if test.TotalQuestions != 3 {
		t.Errorf("total_questions = %d, want 3", test.TotalQuestions)
	}
	if _, err := bank.GetQuestion(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing question err = %v", err)
	}
}
