package circuit

import "context"

// ClientProxy represents the current live connection for a circuit. The
// circuit never owns the transport; it holds a reference that the owner
// replaces wholesale on reconnect.
type ClientProxy interface {
	// Connected reports whether the transport can currently deliver
	// messages.
	Connected() bool

	// SendError delivers a terminal/diagnostic error message to the
	// client.
	SendError(ctx context.Context, message string) error
}

// SetClientProxy replaces the current transport proxy. Safe against
// concurrent reads; the reference is swapped, never mutated.
func (h *Host) SetClientProxy(proxy ClientProxy) {
	h.proxyMu.Lock()
	h.proxy = proxy
	h.proxyMu.Unlock()
}

// clientProxy returns the current transport proxy, which may be nil.
func (h *Host) clientProxy() ClientProxy {
	h.proxyMu.RLock()
	defer h.proxyMu.RUnlock()
	return h.proxy
}

// disconnectedProxy is a ClientProxy with no live transport.
type disconnectedProxy struct{}

func (disconnectedProxy) Connected() bool { return false }

func (disconnectedProxy) SendError(context.Context, string) error { return ErrNotConnected }
