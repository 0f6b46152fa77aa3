// Package shield provides the HTTP security middleware for the scel
// gateway: security headers, request body limits, trace IDs, and
// fixed-window rate limiting with an injectable counter store.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxBody(1 << 20))
//	r.Use(shield.TraceID)
//	rl := shield.NewRateLimiter(shield.RateLimitConfig{MaxRequests: 30, WindowSeconds: 60})
//	rl.StartSweeper(done)
//	r.Use(rl.Middleware)
package shield

import (
	"context"
	"log/slog"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
