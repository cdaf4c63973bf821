package ratelimit

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/config"
)

// bucketKey is the single bucket shared by all callers
const bucketKey = "compile"

// Limiter implements sandbox.RateLimiter
type Limiter struct {
	limiter ratelimit.RateLimiter
	logger  *zap.Logger
}

// New creates a limiter that admits rate requests per second with the given burst
func New(rate, burst int, logger *zap.Logger) *Limiter {
	if burst < rate {
		burst = rate
	}

	return &Limiter{
		limiter: ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    burst,
			Interval: time.Second,
		}),
		logger: logger,
	}
}

// NewFromConfig creates a limiter from the ratelimit section
func NewFromConfig(cfg *config.Config, logger *zap.Logger) *Limiter {
	return New(cfg.RateLimit.Rate, cfg.RateLimit.Burst, logger)
}

// Allow takes one token, reporting false when none is left
func (l *Limiter) Allow(ctx context.Context) bool {
	if l.limiter.Allow(ctx, bucketKey) {
		return true
	}
	l.logger.Debug("request rejected by rate limiter")
	return false
}

// Close stops the limiter's background work
func (l *Limiter) Close() error {
	return l.limiter.Close()
}
