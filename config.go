package tracekit

import (
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Config defines configuration for starting a tracer.
type Config struct {
	// SamplingRate is the probability in [0,1] that a new trace is
	// recorded. 1 records every trace, 0 records none.
	SamplingRate float64

	// DefaultKind is applied to root spans started without an
	// explicit kind.
	DefaultKind Kind

	// Logger receives misuse warnings and lifecycle messages.
	// Defaults to a no-op logger.
	Logger *zap.Logger

	// Clock supplies span timestamps. Defaults to the real clock;
	// inject a fake for deterministic tests.
	Clock clockz.Clock
}

// DefaultConfig returns a configuration that records every trace.
func DefaultConfig() Config {
	return Config{SamplingRate: 1}
}

// Validate checks if the tracer configuration is valid.
func (cfg *Config) Validate() error {
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be in [0,1], got %v", cfg.SamplingRate)
	}
	return nil
}

// BufferConfig defines configuration for an ExporterBuffer.
type BufferConfig struct {
	// BufferSize is the number of records that forces an immediate
	// flush.
	BufferSize int

	// BufferTimeout is how long a non-empty, below-threshold buffer
	// may linger before it is flushed.
	BufferTimeout time.Duration

	// Logger receives delivery-failure reports. Defaults to a no-op
	// logger.
	Logger *zap.Logger

	// Clock drives the flush timer. Defaults to the real clock.
	Clock clockz.Clock
}

// DefaultBufferConfig returns the default buffering thresholds.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		BufferSize:    100,
		BufferTimeout: 20 * time.Second,
	}
}

// Validate checks if the buffer configuration is valid.
func (cfg *BufferConfig) Validate() error {
	if cfg.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be greater than 0, got %d", cfg.BufferSize)
	}
	if cfg.BufferTimeout <= 0 {
		return fmt.Errorf("buffer timeout must be positive, got %s", cfg.BufferTimeout)
	}
	return nil
}

func (cfg BufferConfig) withDefaults() BufferConfig {
	def := DefaultBufferConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BufferTimeout <= 0 {
		cfg.BufferTimeout = def.BufferTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}
	return cfg
}
