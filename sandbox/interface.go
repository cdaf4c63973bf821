package sandbox

import (
	"context"
	"time"

	"github.com/isdmx/codepool/command"
)

// ExecutionRequest represents one compile call
type ExecutionRequest struct {
	Source   string
	Language string
}

// ExecutionResult represents the outcome of a compile call.
// Output may itself hold a formatted "Error:" body when the sandboxed program
// failed; Error is reserved for infrastructure failures and is empty otherwise.
type ExecutionResult struct {
	Output    string        `json:"output"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	FromCache bool          `json:"-"`
}

// ContainerHandle identifies a tracked container. Mutable bookkeeping about the
// container lives in the Inventory, never in the handle.
type ContainerHandle struct {
	ID        string
	Language  command.Language
	CreatedAt time.Time
}

// Stream tags an exec output chunk
type Stream int

// Exec output streams
const (
	Stdout Stream = iota + 1
	Stderr
)

// Chunk is one piece of exec output
type Chunk struct {
	Stream Stream
	Data   []byte
}

// ExecStream yields the tagged output of an attached exec instance.
// Recv returns io.EOF once the instance has exited. Close unblocks a pending Recv.
type ExecStream interface {
	Recv() (Chunk, error)
	Close() error
}

// ContainerSpec describes a language container to create
type ContainerSpec struct {
	Image           string
	Name            string
	WorkDir         string
	Env             []string
	Cmd             []string
	Labels          map[string]string
	MemoryBytes     int64
	MemorySwapBytes int64
	CPUPeriod       int64
	CPUQuota        int64
	NetworkDisabled bool
}

// ContainerRuntime is the capability that owns containers. Implementations
// report daemon connectivity problems as ErrRuntimeUnavailable.
type ContainerRuntime interface {
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	// Start is a no-op for a running container
	Start(ctx context.Context, id string) error
	ExecAttached(ctx context.Context, id string, cmd []string, workDir string) (ExecStream, error)
	// StatsOnce returns the current memory usage in bytes
	StatsOnce(ctx context.Context, id string) (uint64, error)
	Remove(ctx context.Context, id string, force bool) error
	Inspect(ctx context.Context, id string) (running bool, err error)
}

// KeyValueStore is an external string store with per-key expiry
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// RateLimiter admits or rejects a request
type RateLimiter interface {
	Allow(ctx context.Context) bool
}

// Recorder receives pool events, typically for metrics
type Recorder interface {
	CacheLookup(hit bool)
	ContainerCreated(language string)
	ContainerDestroyed(language, reason string)
	ExecutionFinished(language, outcome string, elapsed time.Duration)
	MonitorKill(language string)
	PoolSize(language string, size int)
}

type nopRecorder struct{}

func (nopRecorder) CacheLookup(bool)                                {}
func (nopRecorder) ContainerCreated(string)                         {}
func (nopRecorder) ContainerDestroyed(string, string)               {}
func (nopRecorder) ExecutionFinished(string, string, time.Duration) {}
func (nopRecorder) MonitorKill(string)                              {}
func (nopRecorder) PoolSize(string, int)                            {}
