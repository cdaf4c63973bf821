package sandbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Monitor samples a container's memory usage while it executes and kills the
// container once usage exceeds the limit
type Monitor struct {
	runtime  ContainerRuntime
	interval time.Duration
	logger   *zap.Logger
	recorder Recorder
}

// NewMonitor creates a Monitor polling every interval
func NewMonitor(runtime ContainerRuntime, interval time.Duration, logger *zap.Logger, recorder Recorder) *Monitor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		runtime:  runtime,
		interval: interval,
		logger:   logger,
		recorder: recorder,
	}
}

// Watch polls handle's memory usage until ctx is done, returning nil. On a
// breach it calls onBreach, force-removes the container if onBreach reports the
// container is still owned by the caller, and returns ErrResourceLimitExceeded.
// Sampling errors are logged and polling continues.
func (m *Monitor) Watch(ctx context.Context, handle ContainerHandle, limitBytes uint64, onBreach func() bool) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		usage, err := m.runtime.StatsOnce(ctx, handle.ID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("failed to sample container memory",
				zap.String("container", shortID(handle.ID)),
				zap.Error(err))
		case usage > limitBytes:
			return m.kill(ctx, handle, usage, limitBytes, onBreach)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) kill(ctx context.Context, handle ContainerHandle, usage, limitBytes uint64, onBreach func() bool) error {
	m.logger.Warn("memory limit exceeded, removing container",
		zap.String("language", handle.Language.String()),
		zap.String("container", shortID(handle.ID)),
		zap.Uint64("usage_bytes", usage),
		zap.Uint64("limit_bytes", limitBytes))

	owned := true
	if onBreach != nil {
		owned = onBreach()
	}

	if owned {
		// The execution context is about to be cancelled by the breach itself
		if err := m.runtime.Remove(context.WithoutCancel(ctx), handle.ID, true); err != nil {
			m.logger.Error("failed to remove container over memory limit",
				zap.String("container", shortID(handle.ID)),
				zap.Error(err))
		}
		m.recorder.ContainerDestroyed(handle.Language.String(), "resource_limit")
	}
	m.recorder.MonitorKill(handle.Language.String())

	return fmt.Errorf("%w: container %s used %d bytes, limit %d",
		ErrResourceLimitExceeded, shortID(handle.ID), usage, limitBytes)
}
