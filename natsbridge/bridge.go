package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/config"
	"github.com/isdmx/codepool/sandbox"
)

// Bridge answers compile requests received from NATS
type Bridge struct {
	cfg      config.NATSConfig
	logger   *zap.Logger
	compiler sandbox.Compiler

	mu       sync.Mutex
	conn     *nats.Conn
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	stopping bool
	wg       sync.WaitGroup
}

// New creates a Bridge; nothing connects until Start
func New(cfg config.NATSConfig, logger *zap.Logger, compiler sandbox.Compiler) *Bridge {
	return &Bridge{
		cfg:      cfg,
		logger:   logger.Named("nats"),
		compiler: compiler,
	}
}

// Start connects and subscribes
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return errors.New("bridge already started")
	}

	nc, err := nats.Connect(b.cfg.URL,
		nats.Name("codepool"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", b.cfg.URL, err)
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())

	sub, err := nc.QueueSubscribe(b.cfg.Subject, b.cfg.Queue, b.onMessage)
	if err != nil {
		b.cancel()
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.cfg.Subject, err)
	}

	b.conn = nc
	b.sub = sub

	b.logger.Info("NATS bridge subscribed",
		zap.String("url", b.cfg.URL),
		zap.String("subject", b.cfg.Subject),
		zap.String("queue", b.cfg.Queue))

	return nil
}

// Stop unsubscribes, waits for in-flight requests until ctx expires, then
// closes the connection
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	nc, sub, cancel := b.conn, b.sub, b.cancel
	if nc == nil || b.stopping {
		b.mu.Unlock()
		return nil
	}
	b.stopping = true
	b.mu.Unlock()

	var errs []error
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
		errs = append(errs, ctx.Err())
	}

	cancel()
	if err := nc.FlushTimeout(time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.logger.Debug("flush before close failed", zap.Error(err))
	}
	nc.Close()

	return errors.Join(errs...)
}

func (b *Bridge) onMessage(msg *nats.Msg) {
	if msg.Reply == "" {
		b.logger.Warn("dropping compile request without reply subject", zap.String("subject", msg.Subject))
		return
	}

	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	ctx := b.ctx
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()

		resp := b.Handle(ctx, msg.Data)
		if err := msg.Respond(resp); err != nil {
			b.logger.Error("failed to publish compile reply", zap.String("reply", msg.Reply), zap.Error(err))
		}
	}()
}

// Handle decodes a compile request, runs it and encodes the reply
func (b *Bridge) Handle(ctx context.Context, data []byte) []byte {
	var req sandbox.CompileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		b.logger.Debug("malformed compile request", zap.Error(err))
		msg := "Invalid request body."
		return encode(sandbox.CompileResponse{Error: &msg})
	}

	result, err := b.compiler.Compile(ctx, req.ToExecutionRequest())
	if err != nil && sandbox.IsInfrastructure(err) && !errors.Is(err, context.Canceled) {
		b.logger.Error("compile request failed", zap.String("language", req.Language), zap.Error(err))
	}

	return encode(sandbox.NewCompileResponse(result))
}

func encode(resp sandbox.CompileResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"output":"","error":"Internal error while encoding the result.","execution_time":0,"cached":false}`)
	}
	return data
}
