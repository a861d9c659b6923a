package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// QuestionType is the discriminant of the Question tagged union.
type QuestionType string

const (
	QuestionTypeDomino         QuestionType = "DominoQuestion"
	QuestionTypeMultipleChoice QuestionType = "MultipleChoiceQuestion"
)

// Valid reports whether t is a known question variant.
func (t QuestionType) Valid() bool {
	return t == QuestionTypeDomino || t == QuestionTypeMultipleChoice
}

// Evaluation is a candidate's (or the key's) verdict on a proposition.
type Evaluation string

const (
	EvaluationTrue    Evaluation = "V"
	EvaluationFalse   Evaluation = "F"
	EvaluationUnknown Evaluation = "?"
	// EvaluationAbstain means "I don't know". It is never correct.
	EvaluationAbstain Evaluation = "X"
)

// ValidForCandidate reports whether e may be submitted by a candidate.
func (e Evaluation) ValidForCandidate() bool {
	switch e {
	case EvaluationTrue, EvaluationFalse, EvaluationUnknown, EvaluationAbstain:
		return true
	}
	return false
}

// ValidForKey reports whether e may appear as a correct evaluation.
func (e Evaluation) ValidForKey() bool {
	return e == EvaluationTrue || e == EvaluationFalse || e == EvaluationUnknown
}

// Pip bounds for a domino half.
const (
	MinPips = 0
	MaxPips = 6
)

// ErrInvalidQuestion is returned when a question's payload does not match its type.
var ErrInvalidQuestion = errors.New("invalid question")

// Tile is one domino in a DominoQuestion. A nil half is blank.
type Tile struct {
	ID          int  `json:"id"`
	TopValue    *int `json:"top_value"`
	BottomValue *int `json:"bottom_value"`
	IsEditable  bool `json:"is_editable"`
}

// DominoCorrectAnswer is the expected value of the editable tile.
type DominoCorrectAnswer struct {
	TileID      int `json:"tile_id"`
	TopValue    int `json:"top_value"`
	BottomValue int `json:"bottom_value"`
}

type DominoQuestion struct {
	Tiles         []Tile               `json:"tiles"`
	CorrectAnswer *DominoCorrectAnswer `json:"correct_answer,omitempty"`
}

// EditableTile returns the single tile the candidate fills in.
func (d *DominoQuestion) EditableTile() (Tile, bool) {
	for _, t := range d.Tiles {
		if t.IsEditable {
			return t, true
		}
	}
	return Tile{}, false
}

type Proposition struct {
	Text              string     `json:"text"`
	CorrectEvaluation Evaluation `json:"correct_evaluation,omitempty"`
}

type MultipleChoiceQuestion struct {
	Propositions []Proposition `json:"propositions"`
}

// Question is a read-only item of a test. Exactly one of Domino or
// MultipleChoice is set, matching Type.
type Question struct {
	ID             uuid.UUID               `json:"id"`
	TestID         uuid.UUID               `json:"test_id"`
	QuestionNumber int                     `json:"question_number"`
	Type           QuestionType            `json:"question_type"`
	Instruction    string                  `json:"instruction"`
	Difficulty     string                  `json:"difficulty,omitempty"`
	Domino         *DominoQuestion         `json:"domino,omitempty"`
	MultipleChoice *MultipleChoiceQuestion `json:"multiple_choice,omitempty"`
}

// Validate checks that the payload matches the discriminant and that the
// answer key is well formed.
func (q *Question) Validate() error {
	switch q.Type {
	case QuestionTypeDomino:
		if q.Domino == nil || q.MultipleChoice != nil {
			return fmt.Errorf("%w: %s must carry only a domino payload", ErrInvalidQuestion, q.ID)
		}
		editable := 0
		var editableID int
		for _, t := range q.Domino.Tiles {
			if t.IsEditable {
				editable++
				editableID = t.ID
			}
			if !pipInRange(t.TopValue) || !pipInRange(t.BottomValue) {
				return fmt.Errorf("%w: %s tile %d out of range", ErrInvalidQuestion, q.ID, t.ID)
			}
		}
		if editable != 1 {
			return fmt.Errorf("%w: %s has %d editable tiles", ErrInvalidQuestion, q.ID, editable)
		}
		key := q.Domino.CorrectAnswer
		if key == nil {
			return fmt.Errorf("%w: %s has no correct answer", ErrInvalidQuestion, q.ID)
		}
		if key.TileID != editableID || !pipInRange(&key.TopValue) || !pipInRange(&key.BottomValue) {
			return fmt.Errorf("%w: %s correct answer does not fit the editable tile", ErrInvalidQuestion, q.ID)
		}
	case QuestionTypeMultipleChoice:
		if q.MultipleChoice == nil || q.Domino != nil {
			return fmt.Errorf("%w: %s must carry only a multiple choice payload", ErrInvalidQuestion, q.ID)
		}
		if len(q.MultipleChoice.Propositions) == 0 {
			return fmt.Errorf("%w: %s has no propositions", ErrInvalidQuestion, q.ID)
		}
		for i, p := range q.MultipleChoice.Propositions {
			if !p.CorrectEvaluation.ValidForKey() {
				return fmt.Errorf("%w: %s proposition %d has evaluation %q", ErrInvalidQuestion, q.ID, i, p.CorrectEvaluation)
			}
		}
	default:
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidQuestion, q.ID, q.Type)
	}
	return nil
}

// ForCandidate returns a copy without any correct answers.
func (q *Question) ForCandidate() Question {
	out := *q
	if q.Domino != nil {
		d := DominoQuestion{Tiles: append([]Tile(nil), q.Domino.Tiles...)}
		out.Domino = &d
	}
	if q.MultipleChoice != nil {
		props := make([]Proposition, len(q.MultipleChoice.Propositions))
		for i, p := range q.MultipleChoice.Propositions {
			props[i] = Proposition{Text: p.Text}
		}
		out.MultipleChoice = &MultipleChoiceQuestion{Propositions: props}
	}
	return out
}

// PropositionCount returns the number of propositions, or zero for dominoes.
func (q *Question) PropositionCount() int {
	if q.MultipleChoice == nil {
		return 0
	}
	return len(q.MultipleChoice.Propositions)
}

// EncodeContent serializes the variant payload for storage.
func (q *Question) EncodeContent() ([]byte, error) {
	switch q.Type {
	case QuestionTypeDomino:
		return json.Marshal(q.Domino)
	case QuestionTypeMultipleChoice:
		return json.Marshal(q.MultipleChoice)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, q.Type)
}

// DecodeContent fills the variant payload from its stored form.
func (q *Question) DecodeContent(raw []byte) error {
	switch q.Type {
	case QuestionTypeDomino:
		var d DominoQuestion
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("decode domino content: %w", err)
		}
		q.Domino = &d
	case QuestionTypeMultipleChoice:
		var m MultipleChoiceQuestion
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode multiple choice content: %w", err)
		}
		q.MultipleChoice = &m
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, q.Type)
	}
	return nil
}

func pipInRange(v *int) bool {
	return v == nil || (*v >= MinPips && *v <= MaxPips)
}
