package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/logitest/attempt-service/internal/response"
)

const (
	writeWait = 10 * time.Second
	// readWait bounds how long a candidate may stay silent. Clients ping
	// well inside it.
	readWait = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends an ErrorResponse for code over the WebSocket.
func WriteError(conn *websocket.Conn, ref string, code response.ErrCode, fields map[string]string) error {
	return WriteTyped(conn, ErrorResponse{
		Event:   EventError,
		Ref:     ref,
		Code:    code,
		Message: response.GetMessage(code),
		Fields:  fields,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
