package server

import (
	"net/http"
	"time"

	"github.com/alte-co-jp/aspnetcore/pkg/circuit"
)

// Config holds configuration for the circuit server.
type Config struct {
	// Address is the address to listen on (e.g. ":8080").
	// Default: ":8080".
	Address string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// ReadTimeout is the maximum time to wait for a message from the
	// client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket
	// message.
	// Default: 64KB.
	MaxMessageSize int64

	// CheckOrigin validates the request origin. Default allows all
	// origins, which is not recommended for production.
	CheckOrigin func(r *http.Request) bool

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Circuit is the per-circuit configuration.
	// Default: circuit.DefaultConfig().
	Circuit *circuit.Config

	// Registry is the registry configuration.
	// Default: circuit.DefaultRegistryConfig().
	Registry *circuit.RegistryConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:         ":8080",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		ReadTimeout:     60 * time.Second,
		MaxMessageSize:  64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
		ShutdownTimeout: 30 * time.Second,
		Circuit:         circuit.DefaultConfig(),
		Registry:        circuit.DefaultRegistryConfig(),
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	defaults := DefaultConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.Circuit == nil {
		c.Circuit = defaults.Circuit
	}
	if c.Registry == nil {
		c.Registry = defaults.Registry
	}
	return c
}
