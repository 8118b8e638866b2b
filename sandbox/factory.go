package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for the executor
type Config struct {
	TimeLimitSec int
	MaxSteps     uint64
	Capabilities []string
}

// New creates an Executor from the configuration, building the capability whitelist
func New(logger *zap.Logger, config *Config) (*Executor, error) {
	if config.TimeLimitSec <= 0 {
		return nil, fmt.Errorf("time limit must be positive, got: %d", config.TimeLimitSec)
	}

	names := config.Capabilities
	if len(names) == 0 {
		names = DefaultCapabilityNames()
	}

	caps, err := NewCapabilities(names)
	if err != nil {
		return nil, fmt.Errorf("failed to build capabilities: %w", err)
	}

	logger.Info("sandbox ready",
		zap.Strings("capabilities", caps.Names()),
		zap.Int("time_limit_sec", config.TimeLimitSec),
		zap.Uint64("max_steps", config.MaxSteps))

	return NewExecutor(logger, caps, Options{
		TimeLimit: time.Duration(config.TimeLimitSec) * time.Second,
		MaxSteps:  config.MaxSteps,
	}), nil
}
