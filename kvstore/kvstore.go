package kvstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/codepool/config"
)

// Cache backends
const (
	BackendRedis  = "redis"
	BackendBadger = "badger"
	BackendNone   = "none"
)

// New opens the backend selected by cfg behind a circuit breaker.
// It returns a nil Store for the "none" backend, which disables caching.
func New(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case BackendNone:
		logger.Info("result cache disabled")
		return nil, nil
	case BackendRedis:
		store, err = NewRedis(ctx, cfg.RedisURL)
	case BackendBadger:
		store, err = NewBadger(cfg.BadgerDir, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("result cache ready", zap.String("backend", cfg.Backend))
	return NewBreaker(store, DefaultOpenTimeout, logger), nil
}
