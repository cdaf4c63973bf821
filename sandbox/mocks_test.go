package sandbox

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// mockExec describes what one exec instance produces
type mockExec struct {
	chunks []Chunk
	hang   bool // block until the stream is closed or the container removed
	err    error
}

// MockRuntime implements ContainerRuntime in memory
type MockRuntime struct {
	mu          sync.Mutex
	nextID      int
	containers  map[string]*mockContainer
	createDelay time.Duration
	createErrs  []error
	execErrs    []error
	execFunc    func(id string, cmd []string) mockExec
	memory      map[string]uint64
	statsErr    error
	inspectGate chan struct{} // when set, Inspect blocks until it is closed

	creates  int
	starts   int
	execs    int
	inspects int
	stats    int
	removes  map[string]int
}

type mockContainer struct {
	spec    ContainerSpec
	running bool
	gone    chan struct{}
}

func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		containers: make(map[string]*mockContainer),
		memory:     make(map[string]uint64),
		removes:    make(map[string]int),
	}
}

func (m *MockRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	if m.createDelay > 0 {
		select {
		case <-time.After(m.createDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		return "", err
	}
	m.nextID++
	id := fmt.Sprintf("container-%04d", m.nextID)
	m.containers[id] = &mockContainer{spec: spec, gone: make(chan struct{})}
	return id, nil
}

func (m *MockRuntime) Start(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	c, ok := m.containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	c.running = true
	return nil
}

func (m *MockRuntime) ExecAttached(_ context.Context, id string, cmd []string, _ string) (ExecStream, error) {
	m.mu.Lock()
	m.execs++
	if len(m.execErrs) > 0 {
		err := m.execErrs[0]
		m.execErrs = m.execErrs[1:]
		m.mu.Unlock()
		return nil, err
	}
	c, ok := m.containers[id]
	execFunc := m.execFunc
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no such container: %s", id)
	}

	var behaviour mockExec
	if execFunc != nil {
		behaviour = execFunc(id, cmd)
	}
	if behaviour.err != nil {
		return nil, behaviour.err
	}
	return &mockStream{
		chunks: behaviour.chunks,
		hang:   behaviour.hang,
		gone:   c.gone,
		closed: make(chan struct{}),
	}, nil
}

func (m *MockRuntime) StatsOnce(_ context.Context, id string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats++
	if m.statsErr != nil {
		return 0, m.statsErr
	}
	return m.memory[id], nil
}

func (m *MockRuntime) Remove(_ context.Context, id string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removes[id]++
	c, ok := m.containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	close(c.gone)
	delete(m.containers, id)
	return nil
}

func (m *MockRuntime) Inspect(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	m.inspects++
	gate := m.inspectGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return false, nil
	}
	return c.running, nil
}

// stop simulates a container exiting on its own
func (m *MockRuntime) stop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.containers[id]; ok {
		c.running = false
	}
}

func (m *MockRuntime) setMemory(id string, usage uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memory[id] = usage
}

func (m *MockRuntime) operations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.creates + m.starts + m.execs + m.inspects + m.stats
	for _, n := range m.removes {
		total += n
	}
	return total
}

func (m *MockRuntime) inspectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inspects
}

func (m *MockRuntime) counts() (creates, execs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.execs
}

func (m *MockRuntime) removeCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removes[id]
}

func (m *MockRuntime) live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.containers)
}

type mockStream struct {
	mu     sync.Mutex
	chunks []Chunk
	hang   bool
	gone   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (s *mockStream) Recv() (Chunk, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		chunk := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return chunk, nil
	}
	s.mu.Unlock()

	if !s.hang {
		return Chunk{}, io.EOF
	}
	select {
	case <-s.gone:
		return Chunk{}, io.EOF
	case <-s.closed:
		return Chunk{}, io.ErrClosedPipe
	}
}

func (s *mockStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func stdoutChunk(s string) Chunk {
	return Chunk{Stream: Stdout, Data: []byte(s)}
}

func stderrChunk(s string) Chunk {
	return Chunk{Stream: Stderr, Data: []byte(s)}
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockStore implements KeyValueStore with expiry driven by a fakeClock
type MockStore struct {
	mu     sync.Mutex
	clock  *fakeClock
	data   map[string]mockStoreEntry
	getErr error
	setErr error
	gets   int
	sets   int
}

type mockStoreEntry struct {
	value     string
	expiresAt time.Time
}

func NewMockStore(clock *fakeClock) *MockStore {
	return &MockStore{clock: clock, data: make(map[string]mockStoreEntry)}
}

func (s *MockStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return "", false, s.getErr
	}
	e, ok := s.data[key]
	if !ok || !s.clock.Now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MockStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = mockStoreEntry{value: value, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MockStore) calls() (gets, sets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.sets
}

// MockLimiter admits a fixed number of requests
type MockLimiter struct {
	mu        sync.Mutex
	remaining int
}

func (l *MockLimiter) Allow(context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remaining <= 0 {
		return false
	}
	l.remaining--
	return true
}

// testConfig returns a configuration with short delays for tests
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MonitorInterval = 20 * time.Millisecond
	cfg.ExecTimeout = 2 * time.Second
	cfg.Retry = RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	return cfg
}
