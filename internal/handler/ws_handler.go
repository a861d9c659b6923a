package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/logitest/attempt-service/internal/middleware"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/logitest/attempt-service/internal/response"
	"github.com/logitest/attempt-service/internal/service"
	ws "github.com/logitest/attempt-service/internal/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams candidate interactions over a WebSocket. Every action
// goes through the same AttemptService calls as the HTTP endpoints.
type WSHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:id/stream?token=...
// Accepts visit, answer, flag, skip, time, complete and ping actions.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	caller, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	// Reject before upgrading so the client sees a normal HTTP error.
	a, err := h.attempts.Get(c.Request.Context(), caller, attemptID)
	if err != nil {
		status, code, _ := classify(err)
		response.Fail(c, status, code)
		return
	}
	if a.CandidateID != caller.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("candidate_id", caller.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Candidate connected")

	ctx := c.Request.Context()
	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		done, err := h.dispatch(ctx, conn, caller, attemptID, &msg)
		if err != nil {
			wsLog.Warn().Err(err).Str("action", string(msg.Action)).Msg("Write failed")
			return
		}
		if done {
			wsLog.Info().Msg("Attempt completed over stream")
			return
		}
	}
}

// dispatch handles one message and reports whether the stream should end.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, caller model.Identity, attemptID uuid.UUID, msg *ws.Request) (bool, error) {
	if msg.Action == ws.ActionPing {
		return false, ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong, Ref: msg.Ref})
	}

	var questionID uuid.UUID
	if msg.Action.NeedsQuestion() {
		id, err := uuid.Parse(msg.QuestionID)
		if err != nil {
			return false, ws.WriteError(conn, msg.Ref, response.ErrInvalidID, nil)
		}
		questionID = id
	}

	var (
		data interface{}
		err  error
	)
	switch msg.Action {
	case ws.ActionVisit:
		data, err = h.attempts.Visit(ctx, caller, attemptID, questionID)
	case ws.ActionFlag:
		data, err = h.attempts.ToggleFlag(ctx, caller, attemptID, questionID)
	case ws.ActionSkip:
		data, err = h.attempts.Skip(ctx, caller, attemptID, questionID)
	case ws.ActionTime:
		data, err = h.attempts.ReportTime(ctx, caller, attemptID, questionID, msg.TimeSpentMs)
	case ws.ActionAnswer:
		var payload model.AnswerPayload
		if len(msg.Answer) == 0 || json.Unmarshal(msg.Answer, &payload) != nil {
			return false, ws.WriteError(conn, msg.Ref, response.ErrValidation, map[string]string{"answer": "must be an answer object"})
		}
		var res *service.AnswerResult
		if res, err = h.attempts.SubmitAnswer(ctx, caller, attemptID, questionID, payload); err == nil {
			data = gin.H{"response": res.Response, "changed": res.Changed}
		}
	case ws.ActionComplete:
		res, err := h.attempts.Complete(ctx, caller, attemptID)
		if err != nil {
			return false, h.writeServiceError(conn, msg.Ref, err)
		}
		return true, ws.WriteTyped(conn, ws.CompletedResponse{
			Event:            ws.EventCompleted,
			Ref:              msg.Ref,
			AlreadyFinalized: res.AlreadyFinalized,
			Attempt:          res.Attempt,
		})
	default:
		return false, ws.WriteError(conn, msg.Ref, response.ErrInvalidPayload, map[string]string{"action": "unknown action " + string(msg.Action)})
	}

	if err != nil {
		return false, h.writeServiceError(conn, msg.Ref, err)
	}
	return false, ws.WriteTyped(conn, ws.AckResponse{Event: ws.EventAck, Ref: msg.Ref, Action: msg.Action, Data: data})
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, ref string, err error) error {
	status, code, fields := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Stream action failed")
	}
	return ws.WriteError(conn, ref, code, fields)
}
