package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/sandbox"
)

var errStoreClosed = errors.New("store closed")

// Store is a key-value backend that owns resources
type Store interface {
	sandbox.KeyValueStore
	Close() error
}

const (
	// tripAfter consecutive failures opens the breaker
	tripAfter = 3
	// halfOpenTrials is the number of calls let through while half-open
	halfOpenTrials = 1
)

// DefaultOpenTimeout is how long the breaker stays open before trying the backend again
const DefaultOpenTimeout = 30 * time.Second

type lookup struct {
	value string
	found bool
}

// Breaker guards a store with a circuit breaker. While the breaker is open
// calls fail immediately, which the result cache treats as a miss.
type Breaker struct {
	store   Store
	breaker circuitbreaker.CircuitBreaker[lookup]
}

// NewBreaker wraps store
func NewBreaker(store Store, openTimeout time.Duration, logger *zap.Logger) *Breaker {
	return &Breaker{
		store: store,
		breaker: circuitbreaker.New[lookup](circuitbreaker.Config{
			MaxRequests: halfOpenTrials,
			Interval:    time.Minute,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= tripAfter
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("cache circuit breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// Get reads key through the breaker
func (b *Breaker) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := b.breaker.Execute(ctx, func(ctx context.Context) (lookup, error) {
		value, found, err := b.store.Get(ctx, key)
		return lookup{value: value, found: found}, err
	})
	if err != nil {
		return "", false, err
	}
	return res.value, res.found, nil
}

// SetWithTTL writes key through the breaker
func (b *Breaker) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := b.breaker.Execute(ctx, func(ctx context.Context) (lookup, error) {
		return lookup{}, b.store.SetWithTTL(ctx, key, value, ttl)
	})
	return err
}

// Close closes the wrapped store
func (b *Breaker) Close() error {
	return b.store.Close()
}
