package circuit

import (
	"context"
	"encoding/json"
)

// ComponentDescriptor identifies a root component to render during
// initialization.
type ComponentDescriptor struct {
	// TypeName is the registered component type.
	TypeName string

	// Params are the serialized component parameters.
	Params json.RawMessage

	// Sequence orders the descriptor within the initial batch.
	Sequence int
}

// Renderer is the rendering/diffing collaborator that turns application
// state into render batches. The circuit never touches render output
// directly; it only drives the renderer's lifecycle on the dispatcher.
type Renderer interface {
	// AddComponent schedules an initial render of a root component. The
	// returned channel delivers the render outcome exactly once, when the
	// client has acknowledged the batch. A non-nil error means the
	// submission itself failed.
	AddComponent(ctx context.Context, desc ComponentDescriptor) (<-chan error, error)

	// OnRenderAck applies a client acknowledgment for a render batch. An
	// empty errMsg acknowledges success.
	OnRenderAck(renderID uint64, errMsg string) error

	// FlushBatches re-sends buffered render batches, typically after a
	// reconnect.
	FlushBatches(ctx context.Context) error

	// SetUnhandledErrorHandler registers the sink for failures escaping
	// application code inside the render pipeline. Such failures are fatal
	// to the circuit.
	SetUnhandledErrorHandler(fn func(error))

	// Dispose releases the renderer. Called exactly once, on the
	// dispatcher, during teardown.
	Dispose(ctx context.Context) error
}

// Interop consumes client-originated cross-boundary calls. Implementations
// are invoked on the dispatcher only.
type Interop interface {
	// BeginInvoke dispatches a method invocation originating from the
	// client.
	BeginInvoke(ctx context.Context, callID uint64, target, method string, objectID uint64, argsJSON json.RawMessage) error

	// SupplyByteArray delivers an out-of-band binary payload from the
	// client.
	SupplyByteArray(ctx context.Context, id uint64, data []byte) error

	// Block permanently rejects further interop. Called during teardown.
	Block()
}

// Navigator consumes client-side location changes.
type Navigator interface {
	LocationChanged(ctx context.Context, uri string, intercepted bool) error
}

// SavedState is the persisted prerender state handed to Initialize. It is
// released once all initial renders complete; retaining it past that point
// would leak memory.
type SavedState interface {
	Clear(ctx context.Context) error
}
