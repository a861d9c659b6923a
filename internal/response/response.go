package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Status is the coarse outcome carried by every envelope.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusFail is a client error (4xx).
	StatusFail Status = "fail"
	// StatusError is a server error (5xx).
	StatusError Status = "error"
)

// Response is the standardized API response envelope.
type Response struct {
	Status     Status      `json:"status"`
	Message    string      `json:"message,omitempty"`
	Data       interface{} `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody represents a structured error response.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination holds pagination information.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes TotalPages for a page of perPage items.
func NewPagination(page, perPage, total int) *Pagination {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return &Pagination{Page: page, PerPage: perPage, TotalItems: total, TotalPages: pages}
}

// Metadata includes request tracing and timing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ────────────────────────────────────────────────────────────────────────────
// Helper builders
// ────────────────────────────────────────────────────────────────────────────

// Success sends a successful JSON response with the given status code and data.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Status:   StatusSuccess,
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// SuccessWithMessage is Success with a short human-readable note.
func SuccessWithMessage(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Status:   StatusSuccess,
		Message:  message,
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// SuccessWithPagination sends a successful response with pagination metadata.
func SuccessWithPagination(c *gin.Context, statusCode int, data interface{}, pagination *Pagination) {
	c.JSON(statusCode, Response{
		Status:     StatusSuccess,
		Data:       data,
		Pagination: pagination,
		Metadata:   buildMetadata(c),
	})
}

// Respond sends data with the envelope status derived from statusCode.
// Used where a body is meaningful on a non-2xx status, such as health checks.
func Respond(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Status:   statusFor(statusCode),
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// Fail sends an error response with an error code and no field-level details.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, failure(c, statusCode, code, nil))
}

// FailWithFields sends an error response with field-level validation details.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, failure(c, statusCode, code, fields))
}

// AbortFail aborts the middleware chain and sends an error response.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, failure(c, statusCode, code, nil))
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func failure(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) Response {
	msg := GetMessage(code)
	return Response{
		Status:   statusFor(statusCode),
		Message:  msg,
		Data:     nil,
		Error:    &ErrorBody{Code: code, Message: msg, Fields: fields},
		Metadata: buildMetadata(c),
	}
}

func statusFor(statusCode int) Status {
	switch {
	case statusCode >= 500:
		return StatusError
	case statusCode >= 400:
		return StatusFail
	}
	return StatusSuccess
}

func buildMetadata(c *gin.Context) Metadata {
	id := RequestID(c)
	if id == "" {
		id = uuid.New().String() // Fallback if middleware not applied
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
