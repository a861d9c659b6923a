package grading

import "github.com/logitest/attempt-service/internal/model"

// MultipleChoiceResult is the per-proposition grading of one response.
type MultipleChoiceResult struct {
	Propositions []model.PropositionResponse
	Correct      int
	Attempted    int
	Total        int
}

// Fraction returns Correct/Total, or zero for an empty question.
func (m MultipleChoiceResult) Fraction() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Correct) / float64(m.Total)
}

// AllCorrect reports whether every proposition was evaluated correctly.
func (m MultipleChoiceResult) AllCorrect() bool {
	return m.Total > 0 && m.Correct == m.Total
}

// GradeMultipleChoice marks each submitted evaluation against the key.
// Propositions without an evaluation count as incorrect, as does "X".
func GradeMultipleChoice(props []model.Proposition, answers []model.PropositionResponse) MultipleChoiceResult {
	res := MultipleChoiceResult{Total: len(props)}
	res.Propositions = make([]model.PropositionResponse, 0, len(answers))
	for _, a := range answers {
		correct := false
		if a.PropositionIndex >= 0 && a.PropositionIndex < len(props) {
			correct = a.CandidateEvaluation != model.EvaluationAbstain &&
				a.CandidateEvaluation == props[a.PropositionIndex].CorrectEvaluation
		}
		if a.CandidateEvaluation != model.EvaluationAbstain {
			res.Attempted++
		}
		if correct {
			res.Correct++
		}
		res.Propositions = append(res.Propositions, model.PropositionResponse{
			PropositionIndex:    a.PropositionIndex,
			CandidateEvaluation: a.CandidateEvaluation,
			IsCorrect:           &correct,
		})
	}
	return res
}

type multipleChoiceStrategy struct{}

func (multipleChoiceStrategy) Grade(q *model.Question, r *model.QuestionResponse, p Policy) (Outcome, error) {
	if len(r.PropositionResponses) == 0 {
		return Outcome{Unanswered: true, PropositionsTotal: q.PropositionCount()}, nil
	}
	res := GradeMultipleChoice(q.MultipleChoice.Propositions, r.PropositionResponses)
	return Outcome{
		IsCorrect:             res.AllCorrect(),
		Score:                 p.CorrectWeight * res.Fraction(),
		Propositions:          res.Propositions,
		PropositionsCorrect:   res.Correct,
		PropositionsAttempted: res.Attempted,
		PropositionsTotal:     res.Total,
	}, nil
}
