package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codepool/command"
)

// nodeRuntime answers "node -e" exec instances the way the javascript image would
func nodeRuntime() *MockRuntime {
	rt := NewMockRuntime()
	rt.execFunc = func(_ string, cmd []string) mockExec {
		if len(cmd) == 3 && cmd[0] == "node" && cmd[2] == "console.log(1+1)" {
			return mockExec{chunks: []Chunk{stdoutChunk("2\n")}}
		}
		return mockExec{chunks: []Chunk{stderrChunk("SyntaxError: Unexpected token\n")}}
	}
	return rt
}

func TestPoolCompileScenario(t *testing.T) {
	ctx := context.Background()
	rt := nodeRuntime()
	store := NewMockStore(newFakeClock())
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig(), WithResultStore(store))

	req := ExecutionRequest{Source: "console.log(1+1)", Language: "javascript"}

	first, err := pool.Compile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2\n", first.Output)
	assert.Empty(t, first.Error)
	assert.False(t, first.FromCache)
	assert.Positive(t, first.Elapsed)

	creates, _ := rt.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, map[string]int{"javascript": 1}, pool.Stats(), "container is kept for reuse")

	opsBefore := rt.operations()

	second, err := pool.Compile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2\n", second.Output)
	assert.Empty(t, second.Error)
	assert.True(t, second.FromCache)
	assert.Equal(t, opsBefore, rt.operations(), "a cache hit performs no container operations")
}

func TestPoolCompileUnsupportedLanguage(t *testing.T) {
	rt := NewMockRuntime()
	store := NewMockStore(newFakeClock())
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig(), WithResultStore(store))

	result, err := pool.Compile(context.Background(), ExecutionRequest{Source: "DISPLAY 'HI'.", Language: "cobol"})
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
	assert.Contains(t, result.Error, "Unsupported language")
	assert.Empty(t, result.Output)

	gets, sets := store.calls()
	assert.Zero(t, gets)
	assert.Zero(t, sets)
	assert.Zero(t, rt.operations())
	assert.Empty(t, pool.Stats())
}

func TestPoolCompileRateLimited(t *testing.T) {
	rt := nodeRuntime()
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig(), WithRateLimiter(&MockLimiter{remaining: 1}))
	req := ExecutionRequest{Source: "console.log(1+1)", Language: "javascript"}

	_, err := pool.Compile(context.Background(), req)
	require.NoError(t, err)

	result, err := pool.Compile(context.Background(), req)
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, "Rate limit exceeded. Please try again later.", result.Error)
	_, execs := rt.counts()
	assert.Equal(t, 1, execs)
}

func TestPoolCompileProgramError(t *testing.T) {
	rt := nodeRuntime()
	store := NewMockStore(newFakeClock())
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig(), WithResultStore(store))

	result, err := pool.Compile(context.Background(), ExecutionRequest{Source: "console.log(", Language: "js"})
	require.NoError(t, err)
	assert.Equal(t, "Error:\nSyntaxError: Unexpected token", result.Output)
	assert.Empty(t, result.Error)

	_, sets := store.calls()
	assert.Equal(t, 1, sets, "program failures are cached like any other result")
}

func TestPoolCompileResourceLimit(t *testing.T) {
	rt := NewMockRuntime()
	rt.execFunc = func(id string, _ []string) mockExec {
		rt.setMemory(id, 2*1024*1024*1024)
		return mockExec{hang: true}
	}
	store := NewMockStore(newFakeClock())
	cfg := testConfig()
	pool := NewPool(zaptest.NewLogger(t), rt, cfg, WithResultStore(store))

	done := make(chan struct{})
	var (
		result ExecutionResult
		err    error
	)
	go func() {
		defer close(done)
		result, err = pool.Compile(context.Background(), ExecutionRequest{Source: "x = [0] * 10**10", Language: "python"})
	}()

	select {
	case <-done:
	case <-time.After(cfg.ExecTimeout):
		t.Fatal("breached execution hung instead of failing")
	}

	require.ErrorIs(t, err, ErrResourceLimitExceeded)
	assert.Equal(t, UserMessage(ErrResourceLimitExceeded), result.Error)
	assert.Empty(t, pool.Stats(), "killed container is no longer tracked")
	assert.Zero(t, rt.live())

	_, sets := store.calls()
	assert.Zero(t, sets, "infrastructure failures are not cached")
}

func TestPoolCompileTimeout(t *testing.T) {
	rt := NewMockRuntime()
	rt.execFunc = func(string, []string) mockExec {
		return mockExec{chunks: []Chunk{stdoutChunk("tick\n")}, hang: true}
	}
	cfg := testConfig()
	cfg.ExecTimeout = 50 * time.Millisecond
	pool := NewPool(zaptest.NewLogger(t), rt, cfg)

	result, err := pool.Compile(context.Background(), ExecutionRequest{Source: "while True: print('tick')", Language: "python"})
	require.ErrorIs(t, err, ErrExecutionTimeout)
	assert.Empty(t, result.Output)
	assert.Equal(t, "Execution timed out.", result.Error)

	_, execs := rt.counts()
	assert.Equal(t, 1, execs)
	assert.Empty(t, pool.Stats(), "timed out container is replaced")
	assert.Zero(t, rt.live())
}

func TestPoolCompileCacheUnavailable(t *testing.T) {
	rt := nodeRuntime()
	store := NewMockStore(newFakeClock())
	store.getErr = errors.New("dial tcp: connection refused")
	store.setErr = errors.New("dial tcp: connection refused")
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig(), WithResultStore(store))

	result, err := pool.Compile(context.Background(), ExecutionRequest{Source: "console.log(1+1)", Language: "javascript"})
	require.NoError(t, err)
	assert.Equal(t, "2\n", result.Output)
	assert.False(t, result.FromCache)
}

func TestPoolCompileCreationFailure(t *testing.T) {
	rt := NewMockRuntime()
	rt.createErrs = []error{errors.New("no such image: compiler-rust")}
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig())

	result, err := pool.Compile(context.Background(), ExecutionRequest{Source: "fn main() {}", Language: "rust"})
	require.ErrorIs(t, err, ErrContainerCreationFailed)
	assert.NotContains(t, result.Error, "compiler-rust", "daemon detail stays internal")
}

func TestPoolConcurrentCompile(t *testing.T) {
	rt := nodeRuntime()
	cfg := testConfig()
	cfg.MaxPoolSize = 2
	pool := NewPool(zaptest.NewLogger(t), rt, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := pool.Compile(context.Background(), ExecutionRequest{Source: "console.log(1+1)", Language: "javascript"})
			assert.NoError(t, err)
			assert.Equal(t, "2\n", result.Output)
		}()
	}
	wg.Wait()

	creates, _ := rt.counts()
	assert.LessOrEqual(t, creates, cfg.MaxPoolSize)
	assert.LessOrEqual(t, pool.Stats()["javascript"], cfg.MaxPoolSize)
}

func TestPoolShutdown(t *testing.T) {
	ctx := context.Background()
	rt := nodeRuntime()
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig())

	for _, lang := range []string{"javascript", "python", "c"} {
		_, err := pool.Compile(ctx, ExecutionRequest{Source: "console.log(1+1)", Language: lang})
		require.NoError(t, err)
	}
	require.Len(t, pool.Stats(), 3)

	require.NoError(t, pool.Shutdown(ctx))
	assert.Zero(t, rt.live())
	assert.Empty(t, pool.Stats())

	_, err := pool.Compile(ctx, ExecutionRequest{Source: "console.log(1+1)", Language: "javascript"})
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolShutdownRejectsCachedRequests(t *testing.T) {
	ctx := context.Background()
	rt := nodeRuntime()
	store := NewMockStore(newFakeClock())
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig(), WithResultStore(store))
	req := ExecutionRequest{Source: "console.log(1+1)", Language: "javascript"}

	_, err := pool.Compile(ctx, req)
	require.NoError(t, err)
	require.NoError(t, pool.Shutdown(ctx))

	gets, _ := store.calls()
	result, err := pool.Compile(ctx, req)
	require.ErrorIs(t, err, ErrPoolClosed)
	assert.Empty(t, result.Output)
	assert.Equal(t, UserMessage(ErrPoolClosed), result.Error)

	after, _ := store.calls()
	assert.Equal(t, gets, after, "a closed pool does not consult the cache")
}

func TestPoolCallerCancellationReplacesContainer(t *testing.T) {
	rt := NewMockRuntime()
	rt.execFunc = func(string, []string) mockExec {
		return mockExec{hang: true}
	}
	pool := NewPool(zaptest.NewLogger(t), rt, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pool.Compile(ctx, ExecutionRequest{Source: "while True: pass", Language: "python"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, pool.Stats(), "the abandoned container is not handed out again")
	assert.Zero(t, rt.live())

	rt.mu.Lock()
	rt.execFunc = func(string, []string) mockExec {
		return mockExec{chunks: []Chunk{stdoutChunk("ok\n")}}
	}
	rt.mu.Unlock()

	result, err := pool.Compile(context.Background(), ExecutionRequest{Source: "print('ok')", Language: "python"})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", result.Output)
	creates, _ := rt.counts()
	assert.Equal(t, 2, creates)
}

func TestPoolCompileCodeTooLong(t *testing.T) {
	rt := nodeRuntime()
	store := NewMockStore(newFakeClock())
	cfg := testConfig()
	cfg.MaxCodeBytes = 16
	pool := NewPool(zaptest.NewLogger(t), rt, cfg, WithResultStore(store))

	result, err := pool.Compile(context.Background(), ExecutionRequest{
		Source:   strings.Repeat("x", 17),
		Language: "python",
	})
	require.ErrorIs(t, err, ErrCodeTooLong)
	assert.Equal(t, UserMessage(ErrCodeTooLong), result.Error)
	assert.False(t, IsInfrastructure(err))
	assert.Zero(t, rt.operations())
	gets, sets := store.calls()
	assert.Zero(t, gets)
	assert.Zero(t, sets)

	_, err = pool.Compile(context.Background(), ExecutionRequest{Source: strings.Repeat(" ", 16), Language: "python"})
	require.NoError(t, err, "code at the limit is accepted")
}

func TestOutcomeAndUserMessage(t *testing.T) {
	tests := []struct {
		err     error
		outcome string
	}{
		{nil, OutcomeOK},
		{ErrRateLimitExceeded, OutcomeRateLimited},
		{command.ErrUnsupportedLanguage, OutcomeUnsupported},
		{ErrCodeTooLong, OutcomeCodeTooLong},
		{ErrExecutionTimeout, OutcomeTimeout},
		{ErrResourceLimitExceeded, OutcomeResourceLimit},
		{ErrContainerCreationFailed, OutcomeCreateFailed},
		{context.Canceled, OutcomeCanceled},
		{errors.New("boom"), OutcomeError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.outcome, Outcome(tt.err))
		if tt.err != nil {
			assert.NotEmpty(t, UserMessage(tt.err))
		}
	}

	assert.False(t, IsInfrastructure(nil))
	assert.False(t, IsInfrastructure(ErrRateLimitExceeded))
	assert.False(t, IsInfrastructure(command.ErrUnsupportedLanguage))
	assert.True(t, IsInfrastructure(ErrExecutionTimeout))
}
