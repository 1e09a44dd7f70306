package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"htwg-backend/internal/components/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const RequestIDHeader = "X-Request-Id"

const (
	report_access     = "access"
	report_rate_limit = "rate-limit"
)

// RequestID tags every request with a uuid, keeping a well formed id sent by a proxy.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog reports every finished request. Only the path is logged, the query
// string can hold credentials.
func AccessLog(tel telemetry.API) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		tel.ReportDebug(
			report_access,
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// CORS allows any origin, browsers call this from the app's web view.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, "+RequestIDHeader)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit is a token bucket per client IP. Clients idle for an hour are
// forgotten, the sweep stops when ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig, tel telemetry.API) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*limiterEntry)

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	getLimiter := func(identity string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		entry, ok := limiters[identity]
		if !ok {
			entry = &limiterEntry{
				limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
			}
			limiters[identity] = entry
		}
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cutoff := time.Now().Add(-time.Hour)
			mu.Lock()
			for id, entry := range limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(limiters, id)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		if !getLimiter(c.ClientIP()).Allow() {
			tel.ReportWarning(report_rate_limit, "request_id", c.GetString("request_id"))
			c.Data(http.StatusTooManyRequests, "text/plain; charset=utf-8", []byte(ErrorMessage(http.StatusTooManyRequests)))
			c.Abort()
			return
		}
		c.Next()
	}
}
