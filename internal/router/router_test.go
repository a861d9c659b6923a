package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/grading"
	"github.com/logitest/attempt-service/internal/handler"
	"github.com/logitest/attempt-service/internal/middleware"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/logitest/attempt-service/internal/repository"
	"github.com/logitest/attempt-service/internal/response"
	"github.com/logitest/attempt-service/internal/service"
	"github.com/logitest/attempt-service/internal/validator"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type envelope struct {
	Status     string               `json:"status"`
	Message    string               `json:"message"`
	Data       json.RawMessage      `json:"data"`
	Error      *response.ErrorBody  `json:"error"`
	Pagination *response.Pagination `json:"pagination"`
	Metadata   response.Metadata    `json:"metadata"`
}

type harness struct {
	engine  *gin.Engine
	auth    *service.AuthService
	test    model.Test
	q1, q2  model.Question
	pending model.Test
}

func intp(v int) *int { return &v }

func dominoQuestion(testID uuid.UUID, number, top, bottom int) model.Question {
	return model.Question{
		ID:             uuid.New(),
		TestID:         testID,
		QuestionNumber: number,
		Type:           model.QuestionTypeDomino,
		Instruction:    "Find the missing tile",
		Difficulty:     "easy",
		Domino: &model.DominoQuestion{
			Tiles: []model.Tile{
				{ID: 1, TopValue: intp(1), BottomValue: intp(2)},
				{ID: 2, IsEditable: true},
			},
			CorrectAnswer: &model.DominoCorrectAnswer{TileID: 2, TopValue: top, BottomValue: bottom},
		},
	}
}

func newHarness(t *testing.T, limiter *middleware.RateLimiter) *harness {
	t.Helper()

	h := &harness{auth: service.NewAuthService("router-test-secret", time.Hour)}
	h.test = model.Test{ID: uuid.New(), Name: "Domino", DurationMinutes: 30, IsActive: true}
	h.pending = model.Test{ID: uuid.New(), Name: "Draft", DurationMinutes: 30, IsActive: false}
	h.q1 = dominoQuestion(h.test.ID, 1, 2, 3)
	h.q2 = dominoQuestion(h.test.ID, 2, 5, 6)

	bank := repository.NewMemoryQuestionBank([]model.Test{h.test, h.pending}, []model.Question{h.q1, h.q2})
	store := repository.NewMemoryAttemptStore()
	log := zerolog.Nop()

	attempts := service.NewAttemptService(store, bank, grading.NewEngine(grading.DefaultPolicy()), nil,
		service.AttemptOptions{StartPolicy: config.StartPolicyResume}, log)
	results := service.NewResultsService(store, bank, log)

	cfg := &config.Config{ServiceName: "attempt-service-test", GinMode: gin.TestMode}
	h.engine = SetupRouter(&Handlers{
		Attempt: handler.NewAttemptHandler(attempts, results, log),
		WS:      handler.NewWSHandler(attempts, log, nil),
		System:  handler.NewSystemHandler(nil, nil, log),
	}, Deps{Auth: h.auth, StartLimiter: limiter, Log: log}, cfg)
	return h
}

func (h *harness) token(t *testing.T, user string, role model.Role) string {
	t.Helper()
	tok, err := h.auth.IssueToken(user, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode envelope: %v (%s)", method, path, err, w.Body.String())
	}
	return w, env
}

func (h *harness) start(t *testing.T, token string) model.TestAttempt {
	t.Helper()
	w, env := h.do(t, http.MethodPost, "/api/v1/attempts/tests/"+h.test.ID.String()+"/start", token, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start = %d %s", w.Code, w.Body.String())
	}
	var a model.TestAttempt
	if err := json.Unmarshal(env.Data, &a); err != nil {
		t.Fatal(err)
	}
	return a
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, env envelope, status int, code response.ErrCode) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (%s)", w.Code, status, w.Body.String())
	}
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("error = %+v, want %s", env.Error, code)
	}
	want := "fail"
	if status >= 500 {
		want = "error"
	}
	if env.Status != want {
		t.Fatalf("envelope status = %q, want %q", env.Status, want)
	}
}

func questionPath(a model.TestAttempt, q model.Question, action string) string {
	return fmt.Sprintf("/api/v1/attempts/%s/questions/%s/%s", a.ID, q.ID, action)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	w, env := h.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get(response.HeaderRequestID) == "" {
		t.Fatal("missing request id header")
	}
}

func TestAuthErrors(t *testing.T) {
	h := newHarness(t, nil)
	path := "/api/v1/attempts/" + uuid.NewString()
	staff := h.token(t, "staff-1", model.RoleRecruiter)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		code   response.ErrCode
	}{
		{"no token", http.MethodGet, path, "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"garbage token", http.MethodGet, path, "not.a.jwt", http.StatusUnauthorized, response.ErrTokenInvalid},
		{"staff cannot start", http.MethodPost, "/api/v1/attempts/tests/" + h.test.ID.String() + "/start", staff, http.StatusForbidden, response.ErrCandidateOnly},
		{"staff cannot answer", http.MethodPost, path + "/questions/" + uuid.NewString() + "/skip", staff, http.StatusForbidden, response.ErrCandidateOnly},
		{"candidate cannot list a test", http.MethodGet, "/api/v1/attempts/tests/" + h.test.ID.String(), h.token(t, "cand-1", model.RoleCandidate), http.StatusForbidden, response.ErrStaffOnly},
		{"candidate cannot read status", http.MethodGet, "/api/v1/system/status", h.token(t, "cand-1", model.RoleCandidate), http.StatusForbidden, response.ErrStaffOnly},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, env := h.do(t, tc.method, tc.path, tc.token, nil)
			expectError(t, w, env, tc.status, tc.code)
		})
	}
}

func TestStartAndResume(t *testing.T) {
	h := newHarness(t, nil)
	cand := h.token(t, "cand-1", model.RoleCandidate)

	a := h.start(t, cand)
	if a.Status != model.AttemptStatusInProgress || a.QuestionsTotal != 2 {
		t.Fatalf("attempt = %+v", a)
	}

	w, env := h.do(t, http.MethodPost, "/api/v1/attempts/tests/"+h.test.ID.String()+"/start", cand, nil)
	if w.Code != http.StatusOK || env.Message != "Attempt resumed." {
		t.Fatalf("resume = %d %q", w.Code, env.Message)
	}
	if got := w.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Fatalf("Cache-Control = %q", got)
	}

	t.Run("unknown test", func(t *testing.T) {
		w, env := h.do(t, http.MethodPost, "/api/v1/attempts/tests/"+uuid.NewString()+"/start", cand, nil)
		expectError(t, w, env, http.StatusNotFound, response.ErrNotFound)
	})
	t.Run("inactive test", func(t *testing.T) {
		w, env := h.do(t, http.MethodPost, "/api/v1/attempts/tests/"+h.pending.ID.String()+"/start", cand, nil)
		expectError(t, w, env, http.StatusUnprocessableEntity, response.ErrTestNotAvailable)
	})
	t.Run("bad id", func(t *testing.T) {
		w, env := h.do(t, http.MethodPost, "/api/v1/attempts/tests/nope/start", cand, nil)
		expectError(t, w, env, http.StatusBadRequest, response.ErrInvalidID)
	})
}

func TestFullAttemptFlow(t *testing.T) {
	h := newHarness(t, nil)
	cand := h.token(t, "cand-1", model.RoleCandidate)
	other := h.token(t, "cand-2", model.RoleCandidate)
	staff := h.token(t, "staff-1", model.RoleAdmin)

	a := h.start(t, cand)
	base := "/api/v1/attempts/" + a.ID.String()

	// Answer keys stay hidden while in progress.
	w, _ := h.do(t, http.MethodGet, base+"/questions", cand, nil)
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "correct_answer") {
		t.Fatalf("questions leaked key or failed: %d %s", w.Code, w.Body.String())
	}

	w, env := h.do(t, http.MethodGet, base+"/results", cand, nil)
	expectError(t, w, env, http.StatusConflict, response.ErrResultsNotReady)

	steps := []struct {
		path string
		body any
	}{
		{questionPath(a, h.q1, "visit"), nil},
		{questionPath(a, h.q1, "answer"), model.AnswerPayload{Domino: &model.DominoAnswer{TileID: 2, TopValue: intp(2), BottomValue: intp(3)}}},
		{questionPath(a, h.q1, "time"), model.ReportTimeRequest{TimeSpentMs: 1200}},
		{questionPath(a, h.q2, "skip"), nil},
		{questionPath(a, h.q2, "flag"), nil},
	}
	for _, s := range steps {
		w, _ := h.do(t, http.MethodPost, s.path, cand, s.body)
		if w.Code != http.StatusOK {
			t.Fatalf("POST %s = %d %s", s.path, w.Code, w.Body.String())
		}
	}

	w, env = h.do(t, http.MethodPost, questionPath(a, h.q1, "skip"), other, nil)
	expectError(t, w, env, http.StatusForbidden, response.ErrForbidden)

	w, env = h.do(t, http.MethodPost, base+"/complete", cand, nil)
	if w.Code != http.StatusOK || env.Message != "Attempt completed." {
		t.Fatalf("complete = %d %s", w.Code, w.Body.String())
	}
	var done model.TestAttempt
	if err := json.Unmarshal(env.Data, &done); err != nil {
		t.Fatal(err)
	}
	if done.Status != model.AttemptStatusCompleted || done.Score != 0.5 || done.PercentageScore != 50 {
		t.Fatalf("finalized = status %s score %v pct %v", done.Status, done.Score, done.PercentageScore)
	}

	w, env = h.do(t, http.MethodPost, base+"/complete", cand, nil)
	if w.Code != http.StatusOK || env.Message != "Attempt was already finalized." {
		t.Fatalf("second complete = %d %q", w.Code, env.Message)
	}

	w, env = h.do(t, http.MethodPost, questionPath(a, h.q2, "answer"), cand,
		model.AnswerPayload{Domino: &model.DominoAnswer{TileID: 2, TopValue: intp(5), BottomValue: intp(6)}})
	expectError(t, w, env, http.StatusConflict, response.ErrAttemptFinalized)

	w, env = h.do(t, http.MethodGet, base+"/results", staff, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("staff results = %d %s", w.Code, w.Body.String())
	}
	var report service.ResultsReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Questions) != 2 || report.Attempt.Score != 0.5 {
		t.Fatalf("report = %+v", report.Attempt)
	}

	w, env = h.do(t, http.MethodGet, base+"/results", other, nil)
	expectError(t, w, env, http.StatusForbidden, response.ErrForbidden)

	w, env = h.do(t, http.MethodPost, "/api/v1/attempts/tests/"+h.test.ID.String()+"/start", cand, nil)
	expectError(t, w, env, http.StatusConflict, response.ErrAlreadyCompleted)
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t, nil)
	cand := h.token(t, "cand-1", model.RoleCandidate)
	a := h.start(t, cand)

	tests := []struct {
		name  string
		path  string
		body  any
		field string
	}{
		{"wrong tile", questionPath(a, h.q1, "answer"),
			model.AnswerPayload{Domino: &model.DominoAnswer{TileID: 1, TopValue: intp(1)}}, "domino_answer.tile_id"},
		{"pips out of range", questionPath(a, h.q1, "answer"),
			model.AnswerPayload{Domino: &model.DominoAnswer{TileID: 2, TopValue: intp(9)}}, "domino_answer.top_value"},
		{"zero time", questionPath(a, h.q1, "time"), map[string]int{"time_spent_ms": 0}, "time_spent_ms"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, env := h.do(t, http.MethodPost, tc.path, cand, tc.body)
			expectError(t, w, env, http.StatusBadRequest, response.ErrValidation)
			if _, ok := env.Error.Fields[tc.field]; !ok {
				t.Fatalf("fields = %v, want %s", env.Error.Fields, tc.field)
			}
		})
	}
}

func TestListings(t *testing.T) {
	h := newHarness(t, nil)
	staff := h.token(t, "staff-1", model.RolePsychologist)
	for _, user := range []string{"cand-1", "cand-2", "cand-3"} {
		h.start(t, h.token(t, user, model.RoleCandidate))
	}

	w, env := h.do(t, http.MethodGet, "/api/v1/attempts/tests/"+h.test.ID.String()+"?per_page=2&page=2", staff, nil)
	if w.Code != http.StatusOK || env.Pagination == nil {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}
	if env.Pagination.TotalItems != 3 || env.Pagination.TotalPages != 2 || env.Pagination.Page != 2 {
		t.Fatalf("pagination = %+v", env.Pagination)
	}
	var page struct {
		Attempts []model.TestAttempt `json:"attempts"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Attempts) != 1 {
		t.Fatalf("page 2 has %d attempts, want 1", len(page.Attempts))
	}

	w, env = h.do(t, http.MethodGet, "/api/v1/attempts/tests/"+h.test.ID.String()+"?per_page=500", staff, nil)
	expectError(t, w, env, http.StatusBadRequest, response.ErrValidation)

	w, env = h.do(t, http.MethodGet, "/api/v1/attempts/tests/"+h.test.ID.String()+"?status=paused", staff, nil)
	expectError(t, w, env, http.StatusBadRequest, response.ErrValidation)

	cand := h.token(t, "cand-1", model.RoleCandidate)
	w, _ = h.do(t, http.MethodGet, "/api/v1/attempts/candidates/cand-1", cand, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("own listing = %d", w.Code)
	}
	w, env = h.do(t, http.MethodGet, "/api/v1/attempts/candidates/cand-2", cand, nil)
	expectError(t, w, env, http.StatusForbidden, response.ErrForbidden)

	w, env = h.do(t, http.MethodGet, "/api/v1/attempts/candidates/cand-2/tests/"+h.test.ID.String(), staff, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("latest attempt = %d %s", w.Code, w.Body.String())
	}
	var latest model.TestAttempt
	if err := json.Unmarshal(env.Data, &latest); err != nil {
		t.Fatal(err)
	}
	if latest.CandidateID != "cand-2" {
		t.Fatalf("candidate = %q", latest.CandidateID)
	}
}

func TestStartRateLimit(t *testing.T) {
	h := newHarness(t, middleware.NewRateLimiter(1, time.Hour))
	cand := h.token(t, "cand-1", model.RoleCandidate)
	h.start(t, cand)

	w, env := h.do(t, http.MethodPost, "/api/v1/attempts/tests/"+h.test.ID.String()+"/start", cand, nil)
	expectError(t, w, env, http.StatusTooManyRequests, response.ErrRateLimitExceeded)

	// Limits are per caller.
	h.start(t, h.token(t, "cand-2", model.RoleCandidate))
}

func TestBrotliResponse(t *testing.T) {
	h := newHarness(t, nil)
	staff := h.token(t, "staff-1", model.RoleAdmin)
	for i := 0; i < 12; i++ {
		h.start(t, h.token(t, fmt.Sprintf("cand-%d", i), model.RoleCandidate))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/tests/"+h.test.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+staff)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("Content-Encoding = %q (%d bytes)", w.Header().Get("Content-Encoding"), w.Body.Len())
	}
	raw, err := io.ReadAll(brotli.NewReader(w.Body))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Pagination == nil || env.Pagination.TotalItems != 12 {
		t.Fatalf("pagination = %+v", env.Pagination)
	}
}

func TestAttemptStream(t *testing.T) {
	h := newHarness(t, nil)
	cand := h.token(t, "cand-1", model.RoleCandidate)
	a := h.start(t, cand)

	srv := httptest.NewServer(h.engine)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/attempts/" + a.ID.String() + "/stream?token="

	t.Run("staff rejected before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+h.token(t, "staff-1", model.RoleAdmin), nil)
		if err == nil {
			t.Fatal("dial succeeded")
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("resp = %+v", resp)
		}
	})

	t.Run("other candidate rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+h.token(t, "cand-9", model.RoleCandidate), nil)
		if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("err = %v resp = %+v", err, resp)
		}
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+cand, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(msg map[string]any) map[string]any {
		t.Helper()
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var out map[string]any
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("read: %v", err)
		}
		return out
	}

	if got := send(map[string]any{"action": "ping", "ref": "p1"}); got["event"] != "pong" || got["ref"] != "p1" {
		t.Fatalf("ping -> %v", got)
	}
	if got := send(map[string]any{"action": "visit", "ref": "v1", "question_id": h.q1.ID.String()}); got["event"] != "ack" {
		t.Fatalf("visit -> %v", got)
	}
	got := send(map[string]any{
		"action": "answer", "ref": "a1", "question_id": h.q1.ID.String(),
		"answer": map[string]any{"domino_answer": map[string]any{"tile_id": 2, "top_value": 3, "bottom_value": 2}},
	})
	if got["event"] != "ack" {
		t.Fatalf("answer -> %v", got)
	}
	got = send(map[string]any{"action": "answer", "ref": "a2", "question_id": h.q1.ID.String(),
		"answer": map[string]any{"domino_answer": map[string]any{"tile_id": 7}}})
	if got["event"] != "error" || got["code"] != string(response.ErrValidation) {
		t.Fatalf("bad answer -> %v", got)
	}
	if got := send(map[string]any{"action": "visit", "ref": "x", "question_id": "nope"}); got["code"] != string(response.ErrInvalidID) {
		t.Fatalf("bad id -> %v", got)
	}
	if got := send(map[string]any{"action": "dance", "ref": "d"}); got["event"] != "error" {
		t.Fatalf("unknown action -> %v", got)
	}

	got = send(map[string]any{"action": "complete", "ref": "c1"})
	if got["event"] != "completed" || got["already_finalized"] != false {
		t.Fatalf("complete -> %v", got)
	}
	attempt, _ := got["attempt"].(map[string]any)
	// Reversed tile on q1, q2 unanswered: 0.5 / 2.
	if attempt["score"] != 0.25 || attempt["status"] != string(model.AttemptStatusCompleted) {
		t.Fatalf("attempt = %v", attempt)
	}
}
