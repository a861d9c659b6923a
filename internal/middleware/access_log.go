package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/logitest/attempt-service/internal/response"
	"github.com/rs/zerolog"
)

// AccessLog writes one structured line per request. 5xx log at error level,
// 4xx at warn, the rest at info.
func AccessLog(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev = ev.
			Str("request_id", response.RequestID(c)).
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if claims := GetClaims(c); claims != nil {
			ev = ev.Str("subject", claims.Subject).Str("role", string(claims.Role))
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Msg("request")
	}
}
