// Package logger provides structured logging capabilities.
//
// The logger package builds two zap loggers from configuration: the
// application logger for diagnostics, and the audit logger that carries one
// line per submission event. Both disable sampling, since every audit line
// repeats the same few messages and none may be dropped.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/snipbox/config"
)

// AuditName is the logger name attached to audit lines.
const AuditName = "audit"

// NewFromConfig creates the application logger from the logging section of the configuration
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(cfg.Logging.Mode, cfg.Logging.Level, cfg.Logging.Output...)
}

// NewAuditFromConfig creates the audit logger. It always logs at info level
// so that rejections and outcomes are kept whatever the diagnostic level is.
func NewAuditFromConfig(cfg *config.Config) (*zap.Logger, error) {
	l, err := New(cfg.Logging.Mode, zapcore.InfoLevel.String(), cfg.Logging.AuditOutput...)
	if err != nil {
		return nil, err
	}
	return l.Named(AuditName), nil
}

// New creates a new logger instance. outputs replaces the default sink
// (stderr) when given; entries are zap sink URLs or file paths.
func New(mode, level string, outputs ...string) (*zap.Logger, error) {
	cfg, err := baseConfig(mode)
	if err != nil {
		return nil, err
	}

	cfg.Sampling = nil
	cfg.DisableStacktrace = true

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	if len(outputs) > 0 {
		cfg.OutputPaths = outputs
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

func baseConfig(mode string) (zap.Config, error) {
	switch mode {
	case "development":
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg, nil
	case "production":
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg, nil
	default:
		return zap.Config{}, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}
}
