package model

import (
	"time"

	"github.com/google/uuid"
)

// Test is a read-only assessment definition owned by the question bank.
type Test struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalQuestions  int       `json:"total_questions"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Duration returns the allotted time for one attempt.
func (t *Test) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}
