package circuit

import "sync/atomic"

// Circuit is the externally visible handle representing one session. It
// wraps the lifecycle machine and is what lifecycle handlers receive.
type Circuit struct {
	host *Host
}

// ID returns the circuit's public identifier.
func (c *Circuit) ID() string {
	return c.host.id.ID()
}

// Disposed reports whether the circuit has been torn down.
func (c *Circuit) Disposed() bool {
	return c.host.disposed.Load()
}

// User returns the principal last set via SetCircuitUser, or nil.
func (c *Circuit) User() any {
	if u := c.host.user.Load(); u != nil {
		return *u
	}
	return nil
}

// Handle is the indirection transport-layer code resolves circuits
// through without taking ownership. The host clears it exactly when
// teardown begins, so no new work can be dispatched into a circuit that
// is already going away. An empty handle means "circuit gone", not an
// error.
type Handle struct {
	circuit atomic.Pointer[Circuit]
}

// Circuit resolves the handle. Nil means the circuit has begun teardown.
func (h *Handle) Circuit() *Circuit {
	return h.circuit.Load()
}

// Host resolves the handle to the lifecycle host, or nil.
func (h *Handle) Host() *Host {
	if c := h.circuit.Load(); c != nil {
		return c.host
	}
	return nil
}

// set points the handle at a live circuit.
func (h *Handle) set(c *Circuit) {
	h.circuit.Store(c)
}

// clear empties the handle. First step of teardown.
func (h *Handle) clear() {
	h.circuit.Store(nil)
}
