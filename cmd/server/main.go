package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/snipbox/auditlog"
	"github.com/isdmx/snipbox/config"
	"github.com/isdmx/snipbox/dispatcher"
	"github.com/isdmx/snipbox/logger"
	"github.com/isdmx/snipbox/mcpserver"
	"github.com/isdmx/snipbox/metrics"
	"github.com/isdmx/snipbox/observability"
	"github.com/isdmx/snipbox/receiver"
	"github.com/isdmx/snipbox/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,
			fx.Annotate(logger.NewAuditFromConfig, fx.ResultTags(`name:"audit"`)),

			// Prometheus registry and collectors
			newRegistry,
			newMetrics,

			// Sandbox executor based on config
			newExecutor,

			// Pipeline; hooks stop in reverse, so the receiver closes before the audit log
			fx.Annotate(newAuditLog, fx.ParamTags(``, ``, `name:"audit"`)),
			newDispatcher,
			newReceiver,

			// Operator surfaces
			newObservability,
			newMCPServer,
		),

		fx.Invoke(
			func(*receiver.Receiver) {},
			func(*observability.Server) {},
			startControlSurface,
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func newExecutor(cfg *config.Config, log *zap.Logger) (*sandbox.Executor, error) {
	return sandbox.New(log, &sandbox.Config{
		TimeLimitSec: cfg.Sandbox.TimeLimitSec,
		MaxSteps:     cfg.Sandbox.MaxSteps,
		Capabilities: cfg.Sandbox.Capabilities,
	})
}

func newAuditLog(lc fx.Lifecycle, cfg *config.Config, auditLogger *zap.Logger) *auditlog.Log {
	audit := auditlog.New(auditLogger, cfg.Sandbox.AuditBuffer)
	lc.Append(fx.Hook{
		OnStop: audit.Close,
	})
	return audit
}

func newDispatcher(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, exec *sandbox.Executor, audit *auditlog.Log, m *metrics.Metrics) *dispatcher.Dispatcher {
	disp := dispatcher.New(log, exec, audit, m, dispatcher.WithMaxInFlight(cfg.Sandbox.MaxInFlight))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := disp.Shutdown(ctx); err != nil {
				log.Warn("submissions still running at shutdown", zap.Error(err))
			}
			return nil
		},
	})
	return disp
}

func newReceiver(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, disp *dispatcher.Dispatcher, m *metrics.Metrics) *receiver.Receiver {
	recv := receiver.New(log, cfg.ListenAddr(), cfg.Server.MaxDatagramBytes, disp, m)
	lc.Append(fx.Hook{
		OnStart: recv.Start,
		OnStop: func(context.Context) error {
			return recv.Close()
		},
	})
	return recv
}

func newObservability(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, reg *prometheus.Registry, recv *receiver.Receiver) *observability.Server {
	srv := observability.New(log, cfg.Metrics.Addr, reg, recv)
	if cfg.Metrics.Enabled {
		lc.Append(fx.Hook{
			OnStart: srv.Start,
			OnStop:  srv.Shutdown,
		})
	}
	return srv
}

func newMCPServer(cfg *config.Config, log *zap.Logger, disp *dispatcher.Dispatcher, exec *sandbox.Executor) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, disp, exec.Capabilities())
}

// startControlSurface runs the configured MCP transport in the background.
func startControlSurface(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, server *mcpserver.MCPServer, shutdowner fx.Shutdowner) {
	var serve func() error
	switch cfg.Control.Transport {
	case config.TransportStdio:
		serve = server.ServeStdio
	case config.TransportHTTP:
		serve = server.ServeHTTP
	default:
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := serve(); err != nil {
					log.Error("control surface stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
	})
}
