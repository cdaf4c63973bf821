package dockerrt

import (
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/isdmx/codepool/sandbox"
)

// execStream demultiplexes an attached exec connection into tagged chunks
type execStream struct {
	resp   types.HijackedResponse
	chunks chan sandbox.Chunk
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newExecStream(resp types.HijackedResponse) *execStream {
	s := &execStream{
		resp:   resp,
		chunks: make(chan sandbox.Chunk),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *execStream) pump() {
	defer close(s.chunks)

	var src io.Reader = s.resp.Conn
	if s.resp.Reader != nil {
		src = s.resp.Reader
	}

	_, err := stdcopy.StdCopy(
		&chunkWriter{stream: sandbox.Stdout, s: s},
		&chunkWriter{stream: sandbox.Stderr, s: s},
		src,
	)
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

// Recv returns the next chunk, io.EOF at the end of output, or io.ErrClosedPipe after Close
func (s *execStream) Recv() (sandbox.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
	case <-s.done:
		return sandbox.Chunk{}, io.ErrClosedPipe
	}

	select {
	case <-s.done:
		return sandbox.Chunk{}, io.ErrClosedPipe
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return sandbox.Chunk{}, s.err
	}
	return sandbox.Chunk{}, io.EOF
}

// Close tears down the hijacked connection and unblocks Recv
func (s *execStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.resp.Conn != nil {
			s.resp.Close()
		}
	})
	return nil
}

type chunkWriter struct {
	stream sandbox.Stream
	s      *execStream
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)

	select {
	case w.s.chunks <- sandbox.Chunk{Stream: w.stream, Data: data}:
		return len(p), nil
	case <-w.s.done:
		return 0, io.ErrClosedPipe
	}
}
