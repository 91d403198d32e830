package circuit

import "time"

// Config holds configuration for individual circuits.
type Config struct {
	// DetailedErrors controls whether full error detail is sent to the
	// client. When false, the client receives a generic circuit-terminated
	// notice. Default: false.
	DetailedErrors bool

	// DispatchQueueSize is the capacity of the dispatcher's work queue.
	// Default: 256.
	DispatchQueueSize int

	// FailureQueueSize is the capacity of the unhandled-failure channel.
	// Default: 16.
	FailureQueueSize int

	// MaxStreamBufferSize is the maximum accumulated size of a single
	// chunked transfer.
	// Default: 10MB.
	MaxStreamBufferSize int64

	// InitializeTimeout bounds the initialization sequence.
	// Default: 1 minute.
	InitializeTimeout time.Duration

	// DisposeTimeout bounds teardown work.
	// Default: 10 seconds.
	DisposeTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DetailedErrors:      false,
		DispatchQueueSize:   256,
		FailureQueueSize:    16,
		MaxStreamBufferSize: 10 << 20,
		InitializeTimeout:   time.Minute,
		DisposeTimeout:      10 * time.Second,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// RegistryConfig holds configuration for the circuit registry.
type RegistryConfig struct {
	// MaxCircuits is the maximum number of live circuits. 0 means no limit.
	// Default: 0.
	MaxCircuits int

	// DisconnectedTimeout is how long a disconnected circuit remains
	// resumable before eviction.
	// Default: 3 minutes.
	DisconnectedTimeout time.Duration

	// CleanupInterval is the interval of the eviction loop.
	// Default: 30 seconds.
	CleanupInterval time.Duration
}

// DefaultRegistryConfig returns a RegistryConfig with sensible defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		MaxCircuits:         0,
		DisconnectedTimeout: 3 * time.Minute,
		CleanupInterval:     30 * time.Second,
	}
}
