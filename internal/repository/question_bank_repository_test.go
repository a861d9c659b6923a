package repository

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/model"
)

// questionRow feeds scanQuestion the columns of one questions row.
type questionRow struct {
	id      uuid.UUID
	typ     model.QuestionType
	content []byte
}

func (r questionRow) Scan(dest ...any) error {
	*dest[0].(*uuid.UUID) = r.id
	*dest[1].(*uuid.UUID) = uuid.New()
	*dest[2].(*int) = 1
	*dest[3].(*model.QuestionType) = r.typ
	*dest[4].(*string) = "Find the missing tile"
	*dest[5].(*string) = "easy"
	*dest[6].(*[]byte) = r.content
	return nil
}

func TestScanQuestion(t *testing.T) {
	tests := []struct {
		name    string
		row     questionRow
		wantErr bool
	}{
		{
			name: "domino",
			row: questionRow{id: uuid.New(), typ: model.QuestionTypeDomino,
				content: []byte(`{"tiles":[{"id":1,"is_editable":true}],"correct_answer":{"tile_id":1,"top_value":2,"bottom_value":3}}`)},
		},
		{
			name:    "corrupt content",
			row:     questionRow{id: uuid.New(), typ: model.QuestionTypeDomino, content: []byte(`{"tiles":`)},
			wantErr: true,
		},
		{
			name:    "unknown type",
			row:     questionRow{id: uuid.New(), typ: "EssayQuestion", content: []byte(`{}`)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := scanQuestion(tt.row)
			if q == nil || q.ID != tt.row.id {
				t.Fatalf("question = %+v", q)
			}
			if !tt.wantErr {
				if err != nil || q.Domino == nil || q.Domino.CorrectAnswer.TopValue != 2 {
					t.Fatalf("q = %+v, err = %v", q, err)
				}
				return
			}
			if !errors.Is(err, model.ErrInvalidQuestion) {
				t.Fatalf("err = %v, want ErrInvalidQuestion", err)
			}
			if q.Domino != nil || q.MultipleChoice != nil {
				t.Fatalf("payload kept on undecodable question: %+v", q)
			}
		})
	}
}
