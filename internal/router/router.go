package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/handler"
	"github.com/logitest/attempt-service/internal/middleware"
	"github.com/logitest/attempt-service/internal/response"
	"github.com/logitest/attempt-service/internal/service"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// Deps are the non-handler collaborators the route table needs.
type Deps struct {
	Auth *service.AuthService
	// StartLimiter throttles attempt starts. Nil disables throttling.
	StartLimiter *middleware.RateLimiter
	Log          zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, deps Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(otelgin.Middleware(cfg.ServiceName,
		otelgin.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/health" }),
	))
	router.Use(middleware.AccessLog(deps.Log))
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	startGuards := []gin.HandlerFunc{middleware.RequireCandidate()}
	if deps.StartLimiter != nil {
		startGuards = append(startGuards, deps.StartLimiter.Middleware())
	}

	// ─── 1. Attempt Group (JWT, never cached) ──────────────────────────
	attempts := router.Group("/api/v1/attempts")
	attempts.Use(middleware.RequireJWT(deps.Auth), middleware.NoStore())
	{
		attempts.POST("/tests/:testId/start", append(startGuards, handlers.Attempt.StartAttempt)...)
		attempts.GET("/tests/:testId", middleware.RequireStaff(), handlers.Attempt.ListTestAttempts)

		attempts.GET("/candidates/:candidateId", handlers.Attempt.ListCandidateAttempts)
		attempts.GET("/candidates/:candidateId/tests/:testId", handlers.Attempt.GetCandidateTestAttempt)

		attempts.GET("/:id", handlers.Attempt.GetAttempt)
		attempts.GET("/:id/questions", handlers.Attempt.GetAttemptQuestions)
		attempts.GET("/:id/results", handlers.Attempt.GetResults)

		// Mutations are owner-only; the service re-checks ownership.
		owner := attempts.Group("/:id", middleware.RequireCandidate())
		{
			owner.POST("/questions/:questionId/answer", handlers.Attempt.SubmitAnswer)
			owner.POST("/questions/:questionId/flag", handlers.Attempt.ToggleFlag)
			owner.POST("/questions/:questionId/visit", handlers.Attempt.VisitQuestion)
			owner.POST("/questions/:questionId/time", handlers.Attempt.ReportTime)
			owner.POST("/questions/:questionId/skip", handlers.Attempt.SkipQuestion)
			owner.POST("/complete", handlers.Attempt.CompleteAttempt)
		}
	}

	// ─── 2. System Group (staff) ───────────────────────────────────────
	system := router.Group("/api/v1/system")
	system.Use(middleware.RequireJWT(deps.Auth), middleware.RequireStaff())
	{
		system.GET("/status", handlers.System.Status)
	}

	// ─── 3. WebSocket Group (candidate token in query) ─────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(deps.Auth))
	{
		ws.GET("/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	return router
}
