package grading

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/model"
)

func intPtr(v int) *int { return &v }

func dominoQuestion(top, bottom int) model.Question {
	return model.Question{
		ID:   uuid.New(),
		Type: model.QuestionTypeDomino,
		Domino: &model.DominoQuestion{
			Tiles: []model.Tile{
				{ID: 1, TopValue: intPtr(1), BottomValue: intPtr(2)},
				{ID: 2, IsEditable: true},
			},
			CorrectAnswer: &model.DominoCorrectAnswer{TileID: 2, TopValue: top, BottomValue: bottom},
		},
	}
}

func mcqQuestion(key ...model.Evaluation) model.Question {
	props := make([]model.Proposition, len(key))
	for i, k := range key {
		props[i] = model.Proposition{Text: "p", CorrectEvaluation: k}
	}
	return model.Question{
		ID:             uuid.New(),
		Type:           model.QuestionTypeMultipleChoice,
		MultipleChoice: &model.MultipleChoiceQuestion{Propositions: props},
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestGradeDomino_TruthTable(t *testing.T) {
	key := model.DominoCorrectAnswer{TileID: 2, TopValue: 3, BottomValue: 5}

	tests := []struct {
		name       string
		top        *int
		bottom     *int
		correct    bool
		reversed   bool
		half       bool
		unanswered bool
	}{
		{name: "exact", top: intPtr(3), bottom: intPtr(5), correct: true},
		{name: "reversed", top: intPtr(5), bottom: intPtr(3), reversed: true},
		{name: "top only right", top: intPtr(3), bottom: intPtr(4), half: true},
		{name: "bottom only right", top: intPtr(4), bottom: intPtr(5), half: true},
		{name: "both wrong", top: intPtr(0), bottom: intPtr(0)},
		{name: "top blank bottom right", top: nil, bottom: intPtr(5), half: true},
		{name: "bottom blank top wrong", top: intPtr(1), bottom: nil},
		{name: "both blank", unanswered: true},
		{name: "same value twice matching bottom", top: intPtr(5), bottom: intPtr(5), half: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := GradeDomino(key, &model.DominoAnswer{TileID: 2, TopValue: tc.top, BottomValue: tc.bottom})
			if got.IsCorrect != tc.correct || got.IsReversed != tc.reversed ||
				got.IsHalfCorrect != tc.half || got.Unanswered != tc.unanswered {
				t.Fatalf("got %+v, want correct=%v reversed=%v half=%v unanswered=%v",
					got, tc.correct, tc.reversed, tc.half, tc.unanswered)
			}
			flags := 0
			for _, f := range []bool{got.IsCorrect, got.IsReversed, got.IsHalfCorrect} {
				if f {
					flags++
				}
			}
			if flags > 1 {
				t.Fatalf("more than one flag set: %+v", got)
			}
		})
	}
}

func TestGradeDomino_SymmetricKeyIsNeverReversed(t *testing.T) {
	key := model.DominoCorrectAnswer{TileID: 2, TopValue: 4, BottomValue: 4}
	got := GradeDomino(key, &model.DominoAnswer{TileID: 2, TopValue: intPtr(4), BottomValue: intPtr(4)})
	if !got.IsCorrect || got.IsReversed {
		t.Fatalf("got %+v, want correct only", got)
	}
}

func TestGradeMultipleChoice(t *testing.T) {
	props := []model.Proposition{
		{CorrectEvaluation: model.EvaluationTrue},
		{CorrectEvaluation: model.EvaluationFalse},
		{CorrectEvaluation: model.EvaluationUnknown},
	}

	tests := []struct {
		name      string
		answers   []model.PropositionResponse
		correct   int
		attempted int
		fraction  float64
		all       bool
	}{
		{
			name: "two of three",
			answers: []model.PropositionResponse{
				{PropositionIndex: 0, CandidateEvaluation: model.EvaluationTrue},
				{PropositionIndex: 1, CandidateEvaluation: model.EvaluationFalse},
				{PropositionIndex: 2, CandidateEvaluation: model.EvaluationTrue},
			},
			correct: 2, attempted: 3, fraction: 2.0 / 3.0,
		},
		{
			name: "all correct",
			answers: []model.PropositionResponse{
				{PropositionIndex: 2, CandidateEvaluation: model.EvaluationUnknown},
				{PropositionIndex: 0, CandidateEvaluation: model.EvaluationTrue},
				{PropositionIndex: 1, CandidateEvaluation: model.EvaluationFalse},
			},
			correct: 3, attempted: 3, fraction: 1, all: true,
		},
		{
			name: "abstain is never correct",
			answers: []model.PropositionResponse{
				{PropositionIndex: 0, CandidateEvaluation: model.EvaluationAbstain},
			},
			correct: 0, attempted: 0, fraction: 0,
		},
		{
			name: "missing propositions count as wrong",
			answers: []model.PropositionResponse{
				{PropositionIndex: 0, CandidateEvaluation: model.EvaluationTrue},
			},
			correct: 1, attempted: 1, fraction: 1.0 / 3.0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := GradeMultipleChoice(props, tc.answers)
			if got.Correct != tc.correct || got.Attempted != tc.attempted {
				t.Fatalf("correct=%d attempted=%d, want %d/%d", got.Correct, got.Attempted, tc.correct, tc.attempted)
			}
			if !almostEqual(got.Fraction(), tc.fraction) {
				t.Fatalf("fraction = %v, want %v", got.Fraction(), tc.fraction)
			}
			if got.AllCorrect() != tc.all {
				t.Fatalf("all correct = %v, want %v", got.AllCorrect(), tc.all)
			}
			for _, pr := range got.Propositions {
				if pr.IsCorrect == nil {
					t.Fatalf("proposition %d not marked", pr.PropositionIndex)
				}
			}
		})
	}
}

func TestEngine_Weights(t *testing.T) {
	dq := dominoQuestion(3, 5)
	answer := func(top, bottom int) *model.QuestionResponse {
		return &model.QuestionResponse{DominoAnswer: &model.DominoAnswer{TileID: 2, TopValue: intPtr(top), BottomValue: intPtr(bottom)}}
	}

	tests := []struct {
		name   string
		policy Policy
		resp   *model.QuestionResponse
		score  float64
	}{
		{name: "correct", policy: DefaultPolicy(), resp: answer(3, 5), score: 1},
		{name: "half", policy: DefaultPolicy(), resp: answer(3, 0), score: 0.5},
		{name: "reversed default", policy: DefaultPolicy(), resp: answer(5, 3), score: 0.5},
		{name: "reversed configured", policy: Policy{CorrectWeight: 1, HalfCorrectWeight: 0.5, ReversedWeight: 0.25}, resp: answer(5, 3), score: 0.25},
		{name: "wrong", policy: DefaultPolicy(), resp: answer(0, 0), score: 0},
		{name: "nil response", policy: DefaultPolicy(), resp: nil, score: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := NewEngine(tc.policy).Grade(&dq, tc.resp)
			if err != nil {
				t.Fatalf("grade: %v", err)
			}
			if !almostEqual(out.Score, tc.score) {
				t.Fatalf("score = %v, want %v", out.Score, tc.score)
			}
		})
	}
}

func TestEngine_MultipleChoiceTwoOfThree(t *testing.T) {
	q := mcqQuestion(model.EvaluationTrue, model.EvaluationFalse, model.EvaluationUnknown)
	r := &model.QuestionResponse{PropositionResponses: []model.PropositionResponse{
		{PropositionIndex: 0, CandidateEvaluation: model.EvaluationTrue},
		{PropositionIndex: 1, CandidateEvaluation: model.EvaluationFalse},
		{PropositionIndex: 2, CandidateEvaluation: model.EvaluationFalse},
	}}

	out, err := NewEngine(DefaultPolicy()).Grade(&q, r)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if math.Abs(out.Score-0.667) > 0.001 {
		t.Fatalf("score = %v, want ~0.667", out.Score)
	}
	if out.IsCorrect {
		t.Fatal("partially correct response must not be marked correct")
	}
}

func TestEngine_ScoreAttempt(t *testing.T) {
	dq := dominoQuestion(3, 5)
	mq := mcqQuestion(model.EvaluationTrue, model.EvaluationFalse)
	untouched := dominoQuestion(1, 1)
	questions := []model.Question{dq, mq, untouched}

	orphan := uuid.New()
	responses := []model.QuestionResponse{
		{ID: uuid.New(), QuestionID: dq.ID, DominoAnswer: &model.DominoAnswer{TileID: 2, TopValue: intPtr(3), BottomValue: intPtr(5)}},
		{ID: uuid.New(), QuestionID: mq.ID, PropositionResponses: []model.PropositionResponse{
			{PropositionIndex: 0, CandidateEvaluation: model.EvaluationTrue},
		}},
		{ID: uuid.New(), QuestionID: orphan, PropositionResponses: []model.PropositionResponse{
			{PropositionIndex: 0, CandidateEvaluation: model.EvaluationTrue},
		}},
	}

	sum, graded := NewEngine(DefaultPolicy()).ScoreAttempt(questions, responses, 0)

	if sum.QuestionsTotal != 3 {
		t.Fatalf("total = %d, want 3", sum.QuestionsTotal)
	}
	if !almostEqual(sum.RawScore, 1.5) {
		t.Fatalf("raw = %v, want 1.5", sum.RawScore)
	}
	if !almostEqual(sum.Score, 0.5) || !almostEqual(sum.PercentageScore, 50) {
		t.Fatalf("score = %v (%v%%), want 0.5 (50%%)", sum.Score, sum.PercentageScore)
	}
	if sum.Correct != 1 || sum.Ungraded != 1 {
		t.Fatalf("correct=%d ungraded=%d, want 1/1", sum.Correct, sum.Ungraded)
	}
	if len(graded) != 3 || graded[2].Graded || graded[2].Err == nil {
		t.Fatalf("orphan response should be ungraded with an error: %+v", graded)
	}
}

func TestEngine_ScoreAttempt_FrozenTotal(t *testing.T) {
	q1 := dominoQuestion(3, 5)
	q2 := dominoQuestion(2, 4)
	correct := func(q model.Question, top, bottom int) model.QuestionResponse {
		return model.QuestionResponse{ID: uuid.New(), QuestionID: q.ID,
			DominoAnswer: &model.DominoAnswer{TileID: 2, TopValue: intPtr(top), BottomValue: intPtr(bottom)}}
	}
	responses := []model.QuestionResponse{correct(q1, 3, 5), correct(q2, 2, 4)}

	broken := q2
	broken.Domino = &model.DominoQuestion{Tiles: q2.Domino.Tiles}

	tests := []struct {
		name      string
		questions []model.Question
	}{
		{"question missing from bank", []model.Question{q1}},
		{"question malformed", []model.Question{q1, broken}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, _ := NewEngine(DefaultPolicy()).ScoreAttempt(tt.questions, responses, 2)
			if sum.QuestionsTotal != 2 || sum.Ungraded != 1 {
				t.Fatalf("total=%d ungraded=%d, want 2/1", sum.QuestionsTotal, sum.Ungraded)
			}
			if !almostEqual(sum.Score, 0.5) || !almostEqual(sum.PercentageScore, 50) {
				t.Fatalf("score = %v (%v%%), want 0.5 (50%%)", sum.Score, sum.PercentageScore)
			}
		})
	}
}

func TestEngine_MalformedQuestionIsUngraded(t *testing.T) {
	bad := dominoQuestion(3, 5)
	bad.Domino.CorrectAnswer = nil
	r := model.QuestionResponse{ID: uuid.New(), QuestionID: bad.ID}

	sum, graded := NewEngine(DefaultPolicy()).ScoreAttempt([]model.Question{bad}, []model.QuestionResponse{r}, 0)
	if sum.Ungraded != 1 || graded[0].Graded {
		t.Fatalf("expected ungraded result, got %+v", graded[0])
	}
	if !errors.Is(graded[0].Err, model.ErrInvalidQuestion) {
		t.Fatalf("err = %v, want ErrInvalidQuestion", graded[0].Err)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if err := (Policy{CorrectWeight: 1, HalfCorrectWeight: 1.5}).Validate(); err == nil {
		t.Fatal("expected error for weight above 1")
	}
}
