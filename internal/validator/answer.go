package validator

import (
	"fmt"

	"github.com/logitest/attempt-service/internal/model"
)

// FieldError names the offending field of a rejected answer.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateAnswer checks that payload has the shape q expects. It does not
// look at any stored state.
func ValidateAnswer(q *model.Question, payload model.AnswerPayload) error {
	switch q.Type {
	case model.QuestionTypeDomino:
		return validateDomino(q, payload)
	case model.QuestionTypeMultipleChoice:
		return validateMultipleChoice(q, payload)
	}
	return fieldErr("question_type", "unsupported question type %q", q.Type)
}

func validateDomino(q *model.Question, payload model.AnswerPayload) error {
	if len(payload.Propositions) > 0 {
		return fieldErr("proposition_responses", "not allowed for a domino question")
	}
	a := payload.Domino
	if a == nil {
		return fieldErr("domino_answer", "is required")
	}
	if q.Domino == nil {
		return fieldErr("question_type", "question has no domino payload")
	}
	tile, ok := q.Domino.EditableTile()
	if !ok {
		return fieldErr("question_type", "question has no editable tile")
	}
	if a.TileID != tile.ID {
		return fieldErr("domino_answer.tile_id", "must be the editable tile %d", tile.ID)
	}
	if a.TopValue != nil && (*a.TopValue < model.MinPips || *a.TopValue > model.MaxPips) {
		return fieldErr("domino_answer.top_value", "must be between %d and %d", model.MinPips, model.MaxPips)
	}
	if a.BottomValue != nil && (*a.BottomValue < model.MinPips || *a.BottomValue > model.MaxPips) {
		return fieldErr("domino_answer.bottom_value", "must be between %d and %d", model.MinPips, model.MaxPips)
	}
	return nil
}

func validateMultipleChoice(q *model.Question, payload model.AnswerPayload) error {
	if payload.Domino != nil {
		return fieldErr("domino_answer", "not allowed for a multiple choice question")
	}
	count := q.PropositionCount()
	seen := make(map[int]struct{}, len(payload.Propositions))
	for i, pr := range payload.Propositions {
		if pr.PropositionIndex < 0 || pr.PropositionIndex >= count {
			return fieldErr(fmt.Sprintf("proposition_responses[%d].proposition_index", i),
				"must be between 0 and %d", count-1)
		}
		if _, dup := seen[pr.PropositionIndex]; dup {
			return fieldErr(fmt.Sprintf("proposition_responses[%d].proposition_index", i),
				"duplicate proposition %d", pr.PropositionIndex)
		}
		seen[pr.PropositionIndex] = struct{}{}
		if !pr.CandidateEvaluation.ValidForCandidate() {
			return fieldErr(fmt.Sprintf("proposition_responses[%d].candidate_evaluation", i),
				"must be one of V, F, ?, X")
		}
	}
	return nil
}
