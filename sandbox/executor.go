package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/command"
)

// NoOutputMessage is returned for runs that wrote nothing to either stream
const NoOutputMessage = "Code executed successfully with no output."

// TruncatedNotice is appended to output cut at the capture limit
const TruncatedNotice = "\n[output truncated]"

// Executor runs a command in a container, retrying transient runtime failures
// with exponential backoff. Timeouts and program failures are never retried.
type Executor struct {
	runtime   ContainerRuntime
	workDir   string
	maxOutput int
	logger    *zap.Logger
	retrier   retry.Retry[string]
}

// NewExecutor creates an Executor whose exec instances run in cfg.WorkDir and
// whose captured streams are each cut at cfg.MaxOutputBytes
func NewExecutor(runtime ContainerRuntime, cfg Config, logger *zap.Logger) *Executor {
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultConfig().MaxOutputBytes
	}
	return &Executor{
		runtime:   runtime,
		workDir:   cfg.WorkDir,
		maxOutput: maxOutput,
		logger:    logger,
		retrier:   newRetrier[string](cfg.Retry),
	}
}

// Run executes cmd in handle's container and returns the classified output.
// Each attempt is bounded by timeout; expiry yields ErrExecutionTimeout and
// discards whatever output was read.
func (e *Executor) Run(ctx context.Context, handle ContainerHandle, cmd command.CommandLine, timeout time.Duration) (string, error) {
	output, attempts, err := doWithRetry(ctx, e.retrier, func(ctx context.Context) (string, error) {
		return e.attempt(ctx, handle, cmd, timeout)
	})
	if err != nil {
		e.logger.Debug("execution failed",
			zap.String("container", shortID(handle.ID)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return "", err
	}
	if attempts > 1 {
		e.logger.Info("execution succeeded after retry",
			zap.String("container", shortID(handle.ID)),
			zap.Int("attempts", attempts))
	}
	return output, nil
}

type collected struct {
	stdout    string
	stderr    string
	truncated bool
	err       error
}

func (e *Executor) attempt(ctx context.Context, handle ContainerHandle, cmd command.CommandLine, timeout time.Duration) (string, error) {
	if err := e.runtime.Start(ctx, handle.ID); err != nil {
		return "", fmt.Errorf("start container %s: %w", shortID(handle.ID), err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := e.runtime.ExecAttached(execCtx, handle.ID, cmd, e.workDir)
	if err != nil {
		if timedOut(ctx, execCtx) {
			return "", fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
		}
		return "", fmt.Errorf("exec in container %s: %w", shortID(handle.ID), err)
	}
	defer stream.Close()

	done := make(chan collected, 1)
	go func() {
		done <- collect(stream, e.maxOutput)
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("read exec output: %w", res.err)
		}
		output := Classify(res.stdout, res.stderr)
		if res.truncated {
			e.logger.Debug("exec output truncated",
				zap.String("container", shortID(handle.ID)),
				zap.Int("limit", e.maxOutput))
			output += TruncatedNotice
		}
		return output, nil
	case <-execCtx.Done():
		// Unblocks the collector; its partial output is dropped
		_ = stream.Close()
		if timedOut(ctx, execCtx) {
			return "", fmt.Errorf("%w after %s", ErrExecutionTimeout, timeout)
		}
		return "", ctx.Err()
	}
}

// timedOut reports whether execCtx expired on its own deadline rather than
// because the parent was cancelled
func timedOut(parent, execCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded)
}

// capture buffers one stream up to limit bytes and drops the rest
type capture struct {
	buf       strings.Builder
	limit     int
	truncated bool
}

func (c *capture) write(p []byte) {
	room := c.limit - c.buf.Len()
	if len(p) > room {
		p = p[:max(room, 0)]
		c.truncated = true
	}
	c.buf.Write(p)
}

// collect reads the stream to the end. Output past limit is still drained so
// the program is not blocked on a full pipe.
func collect(stream ExecStream, limit int) collected {
	stdout := &capture{limit: limit}
	stderr := &capture{limit: limit}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return collected{
				stdout:    stdout.buf.String(),
				stderr:    stderr.buf.String(),
				truncated: stdout.truncated || stderr.truncated,
			}
		}
		if err != nil {
			return collected{err: err}
		}
		switch chunk.Stream {
		case Stdout:
			stdout.write(chunk.Data)
		case Stderr:
			stderr.write(chunk.Data)
		}
	}
}

// Classify turns captured streams into the client-visible output: any stderr
// wins and is reported as an "Error:" body without blank lines, an empty run
// yields NoOutputMessage, otherwise stdout is returned verbatim.
func Classify(stdout, stderr string) string {
	if stderr != "" {
		var lines []string
		for _, line := range strings.Split(stderr, "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
		return "Error:\n" + strings.Join(lines, "\n")
	}
	if stdout == "" {
		return NoOutputMessage
	}
	return stdout
}
