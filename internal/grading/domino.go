package grading

import "github.com/logitest/attempt-service/internal/model"

// DominoResult classifies a domino answer. At most one flag is set.
type DominoResult struct {
	IsCorrect     bool
	IsReversed    bool
	IsHalfCorrect bool
	Unanswered    bool
}

// GradeDomino compares an answer with the expected tile values.
func GradeDomino(key model.DominoCorrectAnswer, a *model.DominoAnswer) DominoResult {
	if a.IsEmpty() {
		return DominoResult{Unanswered: true}
	}
	topOK := pipIs(a.TopValue, key.TopValue)
	bottomOK := pipIs(a.BottomValue, key.BottomValue)

	var res DominoResult
	res.IsCorrect = topOK && bottomOK
	res.IsReversed = !res.IsCorrect && pipIs(a.TopValue, key.BottomValue) && pipIs(a.BottomValue, key.TopValue)
	res.IsHalfCorrect = !res.IsCorrect && !res.IsReversed && topOK != bottomOK
	return res
}

type dominoStrategy struct{}

func (dominoStrategy) Grade(q *model.Question, r *model.QuestionResponse, p Policy) (Outcome, error) {
	res := GradeDomino(*q.Domino.CorrectAnswer, r.DominoAnswer)
	out := Outcome{
		IsCorrect:     res.IsCorrect,
		IsReversed:    res.IsReversed,
		IsHalfCorrect: res.IsHalfCorrect,
		Unanswered:    res.Unanswered,
	}
	switch {
	case res.IsCorrect:
		out.Score = p.CorrectWeight
	case res.IsReversed:
		out.Score = p.ReversedWeight
	case res.IsHalfCorrect:
		out.Score = p.HalfCorrectWeight
	}
	return out, nil
}

func pipIs(v *int, want int) bool {
	return v != nil && *v == want
}
