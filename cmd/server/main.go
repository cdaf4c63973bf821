package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/config"
	"github.com/isdmx/codepool/logger"
	"github.com/isdmx/codepool/mcpserver"
	"github.com/isdmx/codepool/metrics"
	"github.com/isdmx/codepool/ratelimit"
)

// stopMargin leaves room for the hooks that run after the pool drains
const stopMargin = 5 * time.Second

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Logging.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	app := fx.New(append(options(cfg),
		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)...)

	app.Run()
}

// options assembles the application graph for cfg
func options(cfg *config.Config) []fx.Option {
	return []fx.Option{
		fx.Supply(cfg),
		fx.StopTimeout(stopTimeout(cfg)),

		// Provide dependencies
		fx.Provide(
			logger.NewFromConfig,
			metrics.New,
			ratelimit.NewFromConfig,

			// Container runtime, cache backend and pool, each with lifecycle hooks
			newRuntime,
			newStore,
			newPool,
			asCompiler,

			mcpserver.New,
		),

		// Start the transports selected by config
		fx.Invoke(
			registerTransport,
			registerNATS,
		),
	}
}

// stopTimeout bounds the whole OnStop sequence. The pool drain alone may take
// the configured shutdown timeout, so fx's 15s default would cut it short.
func stopTimeout(cfg *config.Config) time.Duration {
	return cfg.GetShutdownTimeout() + stopMargin
}
