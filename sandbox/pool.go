package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isdmx/codepool/command"
)

// Compiler is the public surface of the pool used by transports
type Compiler interface {
	Compile(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// Pool orchestrates compile requests: admission, cache, container acquisition,
// monitored execution and cleanup
type Pool struct {
	cfg       Config
	logger    *zap.Logger
	runtime   ContainerRuntime
	store     KeyValueStore
	limiter   RateLimiter
	recorder  Recorder
	cache     *ResultCache
	inventory *Inventory
	monitor   *Monitor
	executor  *Executor
}

// PoolOption defines a functional option for Pool
type PoolOption func(*Pool)

// WithResultStore enables result caching on store
func WithResultStore(store KeyValueStore) PoolOption {
	return func(p *Pool) {
		p.store = store
	}
}

// WithRateLimiter sets the admission check run before any other work
func WithRateLimiter(limiter RateLimiter) PoolOption {
	return func(p *Pool) {
		p.limiter = limiter
	}
}

// WithRecorder sets the event recorder
func WithRecorder(recorder Recorder) PoolOption {
	return func(p *Pool) {
		p.recorder = recorder
	}
}

// NewPool creates a Pool on runtime
func NewPool(logger *zap.Logger, runtime ContainerRuntime, cfg Config, opts ...PoolOption) *Pool {
	p := &Pool{
		cfg:      cfg,
		logger:   logger,
		runtime:  runtime,
		recorder: nopRecorder{},
	}

	for _, opt := range opts {
		opt(p)
	}

	p.cache = NewResultCache(p.store, cfg.CacheTTL, logger, p.recorder)
	p.inventory = NewInventory(runtime, cfg, logger, p.recorder)
	p.monitor = NewMonitor(runtime, cfg.MonitorInterval, logger, p.recorder)
	p.executor = NewExecutor(runtime, cfg, logger)

	return p
}

// Compile runs req and always returns a well-formed result. The error is
// non-nil when the result carries a failure, so transports can pick a status.
func (p *Pool) Compile(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	start := time.Now()

	if p.inventory.Closed() {
		return p.fail(req.Language, start, ErrPoolClosed), ErrPoolClosed
	}

	if p.limiter != nil && !p.limiter.Allow(ctx) {
		return p.fail(req.Language, start, ErrRateLimitExceeded), ErrRateLimitExceeded
	}

	if p.cfg.MaxCodeBytes > 0 && len(req.Source) > p.cfg.MaxCodeBytes {
		err := fmt.Errorf("%w: %d bytes, limit %d", ErrCodeTooLong, len(req.Source), p.cfg.MaxCodeBytes)
		return p.fail(req.Language, start, err), err
	}

	lang, err := command.ParseLanguage(req.Language)
	if err != nil {
		return p.fail(req.Language, start, err), err
	}

	if cached, ok := p.cache.Lookup(ctx, lang, req.Source); ok {
		p.logger.Debug("cache hit", zap.String("language", lang.String()))
		p.recorder.ExecutionFinished(lang.String(), OutcomeCached, time.Since(start))
		return cached, nil
	}

	argv, err := command.Build(lang, req.Source)
	if err != nil {
		return p.fail(lang.String(), start, err), err
	}

	output, err := p.execute(ctx, lang, argv)
	if err != nil {
		p.logger.Warn("compile request failed",
			zap.String("language", lang.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return p.fail(lang.String(), start, err), err
	}

	result := ExecutionResult{
		Output:  output,
		Elapsed: time.Since(start),
	}
	p.cache.Store(ctx, lang, req.Source, result)
	p.recorder.ExecutionFinished(lang.String(), OutcomeOK, result.Elapsed)

	return result, nil
}

func (p *Pool) fail(language string, start time.Time, err error) ExecutionResult {
	result := ExecutionResult{
		Error:   UserMessage(err),
		Elapsed: time.Since(start),
	}
	p.recorder.ExecutionFinished(language, Outcome(err), result.Elapsed)
	return result
}

// execute runs argv in a pooled container while the monitor watches it. The
// two tasks share one group: a breach cancels the execution, and the end of
// the execution cancels the monitor.
func (p *Pool) execute(ctx context.Context, lang command.Language, argv command.CommandLine) (string, error) {
	handle, err := p.inventory.Acquire(ctx, lang)
	if err != nil {
		return "", err
	}

	var (
		breached atomic.Bool
		output   string
	)

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	g.Go(func() error {
		return p.monitor.Watch(watchCtx, handle, uint64(p.cfg.MemoryLimitBytes), func() bool {
			breached.Store(true)
			return p.inventory.Discard(handle)
		})
	})
	g.Go(func() error {
		defer stopWatch()
		out, runErr := p.executor.Run(gctx, handle, argv, p.cfg.ExecTimeout)
		output = out
		return runErr
	})
	err = g.Wait()

	switch {
	case breached.Load():
		// The monitor already dropped and destroyed the container
		if !errors.Is(err, ErrResourceLimitExceeded) {
			err = fmt.Errorf("%w: container %s", ErrResourceLimitExceeded, shortID(handle.ID))
		}
		return "", err
	case errors.Is(err, ErrExecutionTimeout):
		// The runaway process keeps running in the container; replace it
		p.destroy(handle, "timeout")
		return "", err
	case err != nil && ctx.Err() != nil:
		// The caller gave up but the exec may still be running in the daemon
		p.destroy(handle, "canceled")
		return "", err
	case err != nil:
		p.inventory.Release(handle)
		return "", err
	}

	p.inventory.Release(handle)
	return output, nil
}

// destroy discards handle and removes its container if it was still tracked
func (p *Pool) destroy(handle ContainerHandle, reason string) {
	if !p.inventory.Discard(handle) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.runtime.Remove(ctx, handle.ID, true); err != nil {
		p.logger.Warn("failed to remove container",
			zap.String("container", shortID(handle.ID)),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	p.recorder.ContainerDestroyed(handle.Language.String(), reason)
}

// Stats returns the number of tracked containers per language
func (p *Pool) Stats() map[string]int {
	return p.inventory.Stats()
}

// Shutdown force-removes every tracked container exactly once. Compile calls
// made afterwards fail with ErrPoolClosed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down container pool")
	return p.inventory.Shutdown(ctx)
}
