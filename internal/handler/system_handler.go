package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/response"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// SystemHandler serves liveness and runtime status.
type SystemHandler struct {
	rdb       *redis.Client
	checks    []HealthCheck
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. rdb may be nil when the
// service runs without Redis.
func NewSystemHandler(rdb *redis.Client, checks []HealthCheck, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		checks:    checks,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Reports 503 when any dependency is unreachable.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", chk.Name).Msg("Health check failed")
			deps[chk.Name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[chk.Name] = "up"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	response.Respond(c, status, gin.H{"status": overall, "dependencies": deps})
}

type systemStatus struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// QueueFinalized is the backlog of finalized attempts not yet consumed.
	QueueFinalized int64 `json:"queue_finalized"`
}

// Status godoc
// GET /api/v1/system/status
// Runtime and queue statistics for staff.
func (h *SystemHandler) Status(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	st := systemStatus{
		Timestamp:  time.Now().Unix(),
		Uptime:     formatDuration(time.Since(h.startTime)),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.Sys,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	}

	if h.rdb != nil {
		n, err := h.rdb.LLen(c.Request.Context(), config.WorkerKey.AttemptFinalizedQueue).Result()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to read finalized queue length")
		}
		st.QueueFinalized = n
	}

	response.Success(c, http.StatusOK, st)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
