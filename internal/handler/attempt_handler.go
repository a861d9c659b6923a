package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/middleware"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/logitest/attempt-service/internal/repository"
	"github.com/logitest/attempt-service/internal/response"
	"github.com/logitest/attempt-service/internal/service"
	"github.com/logitest/attempt-service/internal/validator"
	"github.com/rs/zerolog"
)

// AttemptHandler serves the attempt lifecycle and results endpoints.
type AttemptHandler struct {
	attempts *service.AttemptService
	results  *service.ResultsService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, results *service.ResultsService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		results:  results,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/attempts/tests/:testId/start
// Opens an attempt, or returns the one already in progress (200).
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	caller, ok := h.identity(c)
	if !ok {
		return
	}
	testID, ok := parseID(c, "testId")
	if !ok {
		return
	}

	res, err := h.attempts.Start(c.Request.Context(), caller, testID, model.ClientInfo{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if res.Resumed {
		response.SuccessWithMessage(c, http.StatusOK, "Attempt resumed.", res.Attempt)
		return
	}
	response.SuccessWithMessage(c, http.StatusCreated, "Attempt started.", res.Attempt)
}

// GetAttempt godoc
// GET /api/v1/attempts/:id
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	caller, ok := h.identity(c)
	if !ok {
		return
	}
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	a, err := h.attempts.Get(c.Request.Context(), caller, attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// GetAttemptQuestions godoc
// GET /api/v1/attempts/:id/questions
// Answer keys are withheld while the attempt is in progress.
func (h *AttemptHandler) GetAttemptQuestions(c *gin.Context) {
	caller, ok := h.identity(c)
	if !ok {
		return
	}
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	view, err := h.attempts.GetQuestions(c.Request.Context(), caller, attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SubmitAnswer godoc
// POST /api/v1/attempts/:id/questions/:questionId/answer
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	caller, attemptID, questionID, ok := h.questionTarget(c)
	if !ok {
		return
	}

	var payload model.AnswerPayload
	if fields := validator.Bind(c, &payload); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.SubmitAnswer(c.Request.Context(), caller, attemptID, questionID, payload)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"response": res.Response,
		"changed":  res.Changed,
	})
}

// ToggleFlag godoc
// POST /api/v1/attempts/:id/questions/:questionId/flag
func (h *AttemptHandler) ToggleFlag(c *gin.Context) {
	caller, attemptID, questionID, ok := h.questionTarget(c)
	if !ok {
		return
	}

	r, err := h.attempts.ToggleFlag(c.Request.Context(), caller, attemptID, questionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

// VisitQuestion godoc
// POST /api/v1/attempts/:id/questions/:questionId/visit
func (h *AttemptHandler) VisitQuestion(c *gin.Context) {
	caller, attemptID, questionID, ok := h.questionTarget(c)
	if !ok {
		return
	}

	r, err := h.attempts.Visit(c.Request.Context(), caller, attemptID, questionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

// ReportTime godoc
// POST /api/v1/attempts/:id/questions/:questionId/time
// Body: {"time_spent_ms": 1500}
func (h *AttemptHandler) ReportTime(c *gin.Context) {
	caller, attemptID, questionID, ok := h.questionTarget(c)
	if !ok {
		return
	}

	var req model.ReportTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	r, err := h.attempts.ReportTime(c.Request.Context(), caller, attemptID, questionID, req.TimeSpentMs)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

// SkipQuestion godoc
// POST /api/v1/attempts/:id/questions/:questionId/skip
func (h *AttemptHandler) SkipQuestion(c *gin.Context) {
	caller, attemptID, questionID, ok := h.questionTarget(c)
	if !ok {
		return
	}

	r, err := h.attempts.Skip(c.Request.Context(), caller, attemptID, questionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

// CompleteAttempt godoc
// POST /api/v1/attempts/:id/complete
// Idempotent: a finalized attempt is returned unchanged.
func (h *AttemptHandler) CompleteAttempt(c *gin.Context) {
	caller, ok := h.identity(c)
	if !ok {
		return
	}
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	res, err := h.attempts.Complete(c.Request.Context(), caller, attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}

	msg := "Attempt completed."
	if res.AlreadyFinalized {
		msg = "Attempt was already finalized."
	}
	response.SuccessWithMessage(c, http.StatusOK, msg, res.Attempt)
}

// GetResults godoc
// GET /api/v1/attempts/:id/results
func (h *AttemptHandler) GetResults(c *gin.Context) {
	caller, ok := h.identity(c)
	if !ok {
		return
	}
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	report, err := h.results.Report(c.Request.Context(), caller, attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// ListCandidateAttempts godoc
// GET /api/v1/attempts/candidates/:candidateId
func (h *AttemptHandler) ListCandidateAttempts(c *gin.Context) {
	caller, ok := h.identity(c)
	if !ok {
		return
	}

	attempts, err := h.attempts.ListByCandidate(c.Request.Context(), caller, c.Param("candidateId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// GetCandidateTestAttempt godoc
// GET /api/v1/attempts/candidates/:candidateId/tests/:testId
// Returns the latest attempt of the candidate on the test.
func (h *AttemptHandler) GetCandidateTestAttempt(c *gin.Context) {
	caller, ok := h.identity(c)
	if !ok {
		return
	}
	testID, ok := parseID(c, "testId")
	if !ok {
		return
	}

	a, err := h.attempts.GetByCandidateAndTest(c.Request.Context(), caller, c.Param("candidateId"), testID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// ListTestAttempts godoc
// GET /api/v1/attempts/tests/:testId?status=&page=&per_page=
func (h *AttemptHandler) ListTestAttempts(c *gin.Context) {
	caller, ok := h.identity(c)
	if !ok {
		return
	}
	testID, ok := parseID(c, "testId")
	if !ok {
		return
	}

	var q model.ListAttemptsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	q.Normalize()

	filter := repository.AttemptFilter{Limit: q.PerPage, Offset: (q.Page - 1) * q.PerPage}
	if q.Status != "" {
		status := model.AttemptStatus(q.Status)
		filter.Status = &status
	}

	attempts, total, err := h.attempts.ListByTest(c.Request.Context(), caller, testID, filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts}, response.NewPagination(q.Page, q.PerPage, total))
}

// ─── helpers ────────────────────────────────────────────────────────

func (h *AttemptHandler) identity(c *gin.Context) (model.Identity, bool) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
	}
	return id, ok
}

func (h *AttemptHandler) questionTarget(c *gin.Context) (model.Identity, uuid.UUID, uuid.UUID, bool) {
	caller, ok := h.identity(c)
	if !ok {
		return caller, uuid.Nil, uuid.Nil, false
	}
	attemptID, ok := parseID(c, "id")
	if !ok {
		return caller, uuid.Nil, uuid.Nil, false
	}
	questionID, ok := parseID(c, "questionId")
	if !ok {
		return caller, uuid.Nil, uuid.Nil, false
	}
	return caller, attemptID, questionID, true
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	status, code, fields := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	if fields != nil {
		response.FailWithFields(c, status, code, fields)
		return
	}
	response.Fail(c, status, code)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
