package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/config"
	"github.com/isdmx/codepool/dockerrt"
	"github.com/isdmx/codepool/httpapi"
	"github.com/isdmx/codepool/kvstore"
	"github.com/isdmx/codepool/logger"
	"github.com/isdmx/codepool/mcpserver"
	"github.com/isdmx/codepool/metrics"
	"github.com/isdmx/codepool/natsbridge"
	"github.com/isdmx/codepool/ratelimit"
	"github.com/isdmx/codepool/sandbox"
)

// fx stops hooks in reverse registration order, so the runtime and store
// outlive the pool, and the pool outlives every transport.

func newRuntime(lc fx.Lifecycle, log *zap.Logger) (*dockerrt.Runtime, error) {
	rt, err := dockerrt.New(log.Named("docker"))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rt.Close()
		},
	})

	return rt, nil
}

func newStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (kvstore.Store, error) {
	store, err := kvstore.New(context.Background(), cfg.Cache, log.Named("cache"))
	if err != nil {
		// Run without a cache when the backend is unreachable
		log.Warn("result cache unavailable, continuing without it", zap.Error(err))
		return nil, nil
	}
	if store == nil {
		return nil, nil
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})

	return store, nil
}

type poolParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *zap.Logger
	Runtime   *dockerrt.Runtime
	Store     kvstore.Store
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Collector
}

func newPool(p poolParams) *sandbox.Pool {
	opts := []sandbox.PoolOption{sandbox.WithRateLimiter(p.Limiter)}
	if p.Store != nil {
		opts = append(opts, sandbox.WithResultStore(p.Store))
	}
	if p.Config.Metrics.Enabled {
		opts = append(opts, sandbox.WithRecorder(p.Metrics))
	}

	pool := sandbox.NewPool(p.Logger.Named("pool"), p.Runtime, sandbox.ConfigFrom(p.Config), opts...)

	p.Logger.Info("configuration loaded",
		zap.String("server.transport", p.Config.Server.Transport),
		zap.Ints("server.ports", p.Config.Server.Ports),
		zap.Int("sandbox.max_pool_size", p.Config.Sandbox.MaxPoolSize),
		zap.Int64("sandbox.memory_limit_bytes", p.Config.Sandbox.MemoryLimitBytes),
		zap.Duration("sandbox.exec_timeout", p.Config.GetExecTimeout()),
		zap.String("cache.backend", p.Config.Cache.Backend),
		zap.Int("ratelimit.rate", p.Config.RateLimit.Rate),
		zap.Bool("nats.enabled", p.Config.NATS.Enabled),
	)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, p.Config.GetShutdownTimeout())
			defer cancel()

			err := pool.Shutdown(ctx)
			if err != nil {
				p.Logger.Error("container cleanup incomplete", zap.Error(err))
			} else {
				p.Logger.Info("all containers removed")
			}
			_ = p.Limiter.Close()
			_ = logger.Sync(p.Logger)
			return err
		},
	})

	return pool
}

func asCompiler(pool *sandbox.Pool) sandbox.Compiler {
	return pool
}

func registerTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger,
	pool *sandbox.Pool, mcp *mcpserver.MCPServer, collector *metrics.Collector,
) error {
	switch cfg.Server.Transport {
	case "stdio":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := mcp.ServeStdio(); err != nil {
						log.Error("stdio transport stopped", zap.Error(err))
					}
					_ = shutdowner.Shutdown()
				}()
				return nil
			},
		})
		return nil

	case "http":
		opts := []httpapi.Option{httpapi.WithMCP(mcp.Handler("/mcp"))}
		if cfg.Metrics.Enabled {
			opts = append(opts, httpapi.WithMetrics(collector.Handler()))
		}
		srv := httpapi.New(cfg.Server, log.Named("http"), pool, pool, opts...)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				return srv.Start()
			},
			OnStop: func(ctx context.Context) error {
				return srv.Stop(ctx)
			},
		})
		return nil

	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}
}

func registerNATS(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, compiler sandbox.Compiler) {
	if !cfg.NATS.Enabled {
		return
	}

	bridge := natsbridge.New(cfg.NATS, log, compiler)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return bridge.Start()
		},
		OnStop: func(ctx context.Context) error {
			if err := bridge.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	})
}
