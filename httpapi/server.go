package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/config"
	"github.com/isdmx/codepool/sandbox"
)

// maxBodyBytes bounds a compile request body
const maxBodyBytes = 1 << 20

// StatsProvider reports tracked containers per language
type StatsProvider interface {
	Stats() map[string]int
}

// Server serves the compile API
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	compiler sandbox.Compiler
	stats    StatsProvider
	metrics  http.Handler
	mcp      http.Handler
	engine   *gin.Engine

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// Option defines a functional option for Server
type Option func(*Server)

// WithMetrics serves handler under /metrics
func WithMetrics(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithMCP serves handler under /mcp
func WithMCP(handler http.Handler) Option {
	return func(s *Server) {
		s.mcp = handler
	}
}

// New creates a Server
func New(cfg config.ServerConfig, logger *zap.Logger, compiler sandbox.Compiler, stats StatsProvider, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		compiler: compiler,
		stats:    stats,
	}

	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()

	return s
}

// Handler returns the route table
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		ginzap.Ginzap(s.logger, time.RFC3339, true),
		ginzap.RecoveryWithZap(s.logger, true),
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{http.MethodPost, http.MethodGet, http.MethodOptions},
			AllowHeaders:    []string{"Origin", "Content-Type"},
			MaxAge:          time.Hour,
		}),
	)
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, errorResponse("Method not allowed."))
	})

	r.POST("/compile", s.handleCompile)
	r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	if s.mcp != nil {
		r.Any("/mcp", gin.WrapH(s.mcp))
	}
	return r
}

// Start binds the first available configured port and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("server already started")
	}

	ln, err := listen(s.cfg.Host, s.cfg.Ports, s.logger)
	if err != nil {
		return err
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	srv, done := s.srv, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops accepting requests and waits for in-flight ones until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info("stopping HTTP server")
	err := srv.Shutdown(ctx)
	if err == nil {
		<-done
	}
	return err
}

// listen tries each port in order and returns the first successful listener
func listen(host string, ports []int, logger *zap.Logger) (net.Listener, error) {
	var errs []error
	for _, port := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		logger.Warn("port unavailable, trying next", zap.String("addr", addr), zap.Error(err))
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no configured port available: %w", errors.Join(errs...))
}

func (s *Server) handleCompile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req sandbox.CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("malformed compile request", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body."))
		return
	}

	result, err := s.compiler.Compile(c.Request.Context(), req.ToExecutionRequest())
	status := statusFor(err)
	if status == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		s.logger.Error("compile request failed",
			zap.String("language", req.Language),
			zap.Duration("elapsed", result.Elapsed),
			zap.Error(err))
	}

	c.JSON(status, sandbox.NewCompileResponse(result))
}

func (s *Server) handleHealth(c *gin.Context) {
	containers := map[string]int{}
	if s.stats != nil {
		containers = s.stats.Stats()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"containers": containers,
	})
}

// statusFor maps a compile error to its HTTP status
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, sandbox.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case sandbox.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(msg string) sandbox.CompileResponse {
	return sandbox.CompileResponse{Error: &msg}
}
