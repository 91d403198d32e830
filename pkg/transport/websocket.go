// Package transport implements circuit.ClientProxy over a WebSocket
// connection. The proxy represents "the current connection for this
// circuit"; on reconnect the circuit owner builds a fresh proxy and swaps
// the reference rather than mutating this one.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alte-co-jp/aspnetcore/pkg/circuit"
)

// Envelope is the outbound message wrapper delivered to the client.
type Envelope struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Config holds transport timeouts.
type Config struct {
	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{WriteTimeout: 10 * time.Second}
}

// WebSocketProxy delivers messages to a client over one WebSocket
// connection.
type WebSocketProxy struct {
	conn   *websocket.Conn
	mu     sync.Mutex // protects conn writes
	closed atomic.Bool
	config *Config
	logger *slog.Logger
}

var _ circuit.ClientProxy = (*WebSocketProxy)(nil)

// NewWebSocketProxy wraps an upgraded connection.
func NewWebSocketProxy(conn *websocket.Conn, config *Config, logger *slog.Logger) *WebSocketProxy {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketProxy{conn: conn, config: config, logger: logger}
}

// Connected reports whether the connection can still deliver messages.
func (p *WebSocketProxy) Connected() bool {
	return !p.closed.Load() && p.conn != nil
}

// SendError delivers an error notification to the client.
func (p *WebSocketProxy) SendError(ctx context.Context, message string) error {
	return p.send(Envelope{Type: "error", Message: message})
}

// SendJSON writes an arbitrary message to the client. Used by the server
// layer for handshake replies and stream acknowledgments; writes are
// serialized with SendError.
func (p *WebSocketProxy) SendJSON(ctx context.Context, v any) error {
	return p.send(v)
}

// send writes one JSON message with the configured deadline.
func (p *WebSocketProxy) send(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() || p.conn == nil {
		return circuit.ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		p.logger.Error("write error", "error", err)
		p.markClosed()
		return err
	}
	return nil
}

// Close sends a close frame and releases the connection. Idempotent.
func (p *WebSocketProxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return
	}
	if p.conn != nil {
		p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		p.conn.Close()
	}
}

// markClosed flags the proxy dead after a failed write. Callers hold mu.
func (p *WebSocketProxy) markClosed() {
	p.closed.Store(true)
}
