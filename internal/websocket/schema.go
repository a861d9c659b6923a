package websocket

import (
	"encoding/json"

	"github.com/logitest/attempt-service/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionVisit    Action = "visit"
	ActionAnswer   Action = "answer"
	ActionFlag     Action = "flag"
	ActionSkip     Action = "skip"
	ActionTime     Action = "time"
	ActionComplete Action = "complete"
	ActionPing     Action = "ping"
)

// NeedsQuestion reports whether the action targets a single question.
func (a Action) NeedsQuestion() bool {
	switch a {
	case ActionVisit, ActionAnswer, ActionFlag, ActionSkip, ActionTime:
		return true
	}
	return false
}

// Request is one client message. Ref is echoed back so the client can pair
// acknowledgements with the messages it sent.
type Request struct {
	Action      Action          `json:"action"`
	Ref         string          `json:"ref,omitempty"`
	QuestionID  string          `json:"question_id,omitempty"`
	Answer      json.RawMessage `json:"answer,omitempty"`
	TimeSpentMs int64           `json:"time_spent_ms,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAck       Event = "ack"
	EventCompleted Event = "completed"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// AckResponse confirms an interaction and carries the updated response.
type AckResponse struct {
	Event  Event       `json:"event"`
	Ref    string      `json:"ref,omitempty"`
	Action Action      `json:"action"`
	Data   interface{} `json:"data,omitempty"`
}

// CompletedResponse carries the frozen attempt after complete.
type CompletedResponse struct {
	Event            Event       `json:"event"`
	Ref              string      `json:"ref,omitempty"`
	AlreadyFinalized bool        `json:"already_finalized"`
	Attempt          interface{} `json:"attempt"`
}

// ErrorResponse uses the same codes as the HTTP API.
type ErrorResponse struct {
	Event   Event             `json:"event"`
	Ref     string            `json:"ref,omitempty"`
	Code    response.ErrCode  `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event  `json:"event"`
	Ref   string `json:"ref,omitempty"`
}
