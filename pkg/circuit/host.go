package circuit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a circuit.
type State int32

// Lifecycle states. Active and Disconnected alternate any number of times
// across reconnects; Disposing and Disposed are terminal.
const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateDisconnected
	StateDisposing
	StateDisposed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Host owns the lifecycle of one circuit: initialization,
// connect/disconnect transitions, interop dispatch, and teardown. All
// session-mutating work runs on the host's dispatcher.
type Host struct {
	id      ID
	config  *Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	circuit    *Circuit
	handle     *Handle
	dispatcher *Dispatcher
	renderer   Renderer
	interop    Interop
	navigator  Navigator
	handlers   handlerChain
	calls      *CorrelationTable
	streams    *StreamReassembler
	reporter   *ErrorReporter
	failures   chan Failure

	proxyMu sync.RWMutex
	proxy   ClientProxy

	state         atomic.Int32
	initialized   atomic.Bool
	disposed      atomic.Bool
	initDone      chan struct{}
	fatalReported atomic.Bool
	user          atomic.Pointer[any]
}

// HostOptions configures a new Host.
type HostOptions struct {
	// ID is the circuit identity. Required; the secret must be non-zero.
	ID ID

	// Renderer is the rendering collaborator. Required.
	Renderer Renderer

	// Interop consumes client-originated calls. Optional; when nil,
	// interop calls fail as client-data errors.
	Interop Interop

	// Navigator consumes location changes. Optional.
	Navigator Navigator

	// Handlers observe lifecycle transitions, in registration order.
	Handlers []Handler

	// Proxy is the initial transport proxy. Optional; defaults to a
	// disconnected proxy.
	Proxy ClientProxy

	// Config holds circuit configuration. Defaults to DefaultConfig().
	Config *Config

	// Logger is the base logger. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records circuit activity. Optional.
	Metrics *Metrics
}

// NewHost creates an uninitialized circuit host.
func NewHost(opts HostOptions) (*Host, error) {
	if !opts.ID.Valid() {
		return nil, ErrMissingSecret
	}
	if opts.Renderer == nil {
		return nil, errors.New("circuit: renderer is required")
	}

	config := opts.Config
	if config == nil {
		config = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("circuit_id", opts.ID.ID())

	proxy := opts.Proxy
	if proxy == nil {
		proxy = disconnectedProxy{}
	}

	h := &Host{
		id:        opts.ID,
		config:    config,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("circuit"),
		renderer:  opts.Renderer,
		interop:   opts.Interop,
		navigator: opts.Navigator,
		handlers:  handlerChain{handlers: opts.Handlers, logger: logger},
		calls:     NewCorrelationTable(),
		streams:   NewStreamReassembler(config.MaxStreamBufferSize),
		reporter:  NewErrorReporter(config.DetailedErrors, logger),
		failures:  make(chan Failure, config.FailureQueueSize),
		proxy:     proxy,
		initDone:  make(chan struct{}),
	}
	h.circuit = &Circuit{host: h}
	h.handle = &Handle{}
	h.handle.set(h.circuit)
	h.dispatcher = NewDispatcher(config.DispatchQueueSize, logger)

	// Failures escaping application code inside the render pipeline are
	// fatal to the circuit.
	opts.Renderer.SetUnhandledErrorHandler(h.handleFatalError)

	h.metrics.circuitOpened()
	return h, nil
}

// ID returns the circuit identity.
func (h *Host) ID() ID { return h.id }

// Circuit returns the externally visible circuit handle.
func (h *Host) Circuit() *Circuit { return h.circuit }

// Handle returns the indirection record used for transport-layer lookups.
func (h *Host) Handle() *Handle { return h.handle }

// State returns the current lifecycle state.
func (h *Host) State() State { return State(h.state.Load()) }

// Initialized reports whether the circuit accepts interop: handlers have
// run and the initial renders are submitted, though they may still be
// awaiting client acks.
func (h *Host) Initialized() bool { return h.initialized.Load() }

// InitComplete returns a channel closed when the initialization sequence
// has finished, successfully or not.
func (h *Host) InitComplete() <-chan struct{} { return h.initDone }

// Done returns a channel closed once teardown has fully completed and the
// dispatcher has drained.
func (h *Host) Done() <-chan struct{} { return h.dispatcher.Done() }

// SetCircuitUser replaces the authenticated principal associated with the
// circuit.
func (h *Host) SetCircuitUser(user any) {
	h.user.Store(&user)
}

// Initialize starts the circuit. Legal exactly once: re-entry fails with
// ErrAlreadyInitialized and performs no handler or render work. The
// returned error covers only that usage check; the initialization
// sequence itself never reports failure to the caller. Its failures are
// logged, best-effort reported to the client, and emitted on Failures.
//
// Sequence, on the dispatcher: run OnCircuitOpened handlers, run
// OnConnectionUp handlers, submit every initial render, and open the
// interop gate; the render acks themselves arrive through
// OnRenderCompleted, so interop must be accepted while renders are still
// outstanding. Then, off the dispatcher, wait for all renders to complete
// in any order, clear the saved-state store, and move to Active. The
// store is not cleared when the sequence fails or is cancelled.
func (h *Host) Initialize(ctx context.Context, descriptors []ComponentDescriptor, saved SavedState) error {
	if h.disposed.Load() {
		return ErrDisposed
	}
	if !h.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return ErrAlreadyInitialized
	}
	go h.runInitialize(ctx, descriptors, saved)
	return nil
}

func (h *Host) runInitialize(ctx context.Context, descriptors []ComponentDescriptor, saved SavedState) {
	defer close(h.initDone)

	ctx, cancel := context.WithTimeout(ctx, h.config.InitializeTimeout)
	defer cancel()
	ctx, span := h.tracer.Start(ctx, "circuit.initialize",
		trace.WithAttributes(attribute.String("circuit.id", h.id.ID())))
	defer span.End()

	var renders []<-chan error
	err := h.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		if err := h.handlers.opened(ctx, h.circuit); err != nil {
			h.metrics.handlerFailed()
			return fmt.Errorf("opened handlers: %w", err)
		}
		if err := h.handlers.connectionUp(ctx, h.circuit); err != nil {
			h.metrics.handlerFailed()
			return fmt.Errorf("connection up handlers: %w", err)
		}
		for _, desc := range descriptors {
			done, err := h.renderer.AddComponent(ctx, desc)
			if err != nil {
				return fmt.Errorf("add component %q: %w", desc.TypeName, err)
			}
			renders = append(renders, done)
		}
		// From here the circuit must accept interop: the render acks that
		// resolve the channels above arrive through OnRenderCompleted.
		h.initialized.Store(true)
		return nil
	})

	// Wait for the renders off the dispatcher: their acks arrive through
	// OnRenderCompleted, which needs the loop. Completion order is
	// unconstrained, but all must complete before success.
	if err == nil {
		err = h.awaitRenders(ctx, renders)
	}

	if err == nil {
		err = h.dispatcher.Invoke(ctx, func(ctx context.Context) error {
			if saved != nil {
				if clearErr := saved.Clear(ctx); clearErr != nil {
					h.logger.Warn("failed to clear saved circuit state", "error", clearErr)
				}
			}
			return nil
		})
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("circuit initialization failed", "error", err)
		h.reporter.Report(ctx, h.clientProxy(), err, "The circuit failed to initialize.")
		h.emitFailure(NewOpError(h.id.ID(), "initialize", err), false)
		return
	}

	h.state.CompareAndSwap(int32(StateInitializing), int32(StateActive))
	h.logger.Info("circuit initialized", "components", len(descriptors))
}

// awaitRenders blocks until every initial render has completed.
func (h *Host) awaitRenders(ctx context.Context, renders []<-chan error) error {
	for _, done := range renders {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("initial render: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ConnectionUp notifies the circuit that a transport has connected. The
// OnConnectionUp handlers run on the dispatcher in registration order;
// their joined failures propagate to the caller, which owns the decision
// to keep or discard the connection.
func (h *Host) ConnectionUp(ctx context.Context) error {
	if h.disposed.Load() {
		return ErrDisposed
	}
	h.state.CompareAndSwap(int32(StateDisconnected), int32(StateActive))
	err := h.invoke(ctx, "connection_up", func(ctx context.Context) error {
		return h.handlers.connectionUp(ctx, h.circuit)
	})
	if err != nil {
		h.metrics.handlerFailed()
	}
	return err
}

// ConnectionDown notifies the circuit that the transport has
// disconnected. Handler failures propagate like ConnectionUp.
func (h *Host) ConnectionDown(ctx context.Context) error {
	if h.disposed.Load() {
		return ErrDisposed
	}
	h.state.CompareAndSwap(int32(StateActive), int32(StateDisconnected))
	err := h.invoke(ctx, "connection_down", func(ctx context.Context) error {
		return h.handlers.connectionDown(ctx, h.circuit)
	})
	if err != nil {
		h.metrics.handlerFailed()
	}
	return err
}

// Dispose tears the circuit down. Idempotent: a second invocation is a
// no-op. Every step is independently fault-contained and nothing
// propagates out of disposal. Steps run on the dispatcher to stay
// serialized with in-flight work: clear the handle, run OnConnectionDown
// handlers, run OnCircuitClosed handlers, block interop, dispose the
// renderer, abandon pending calls and transfers.
func (h *Host) Dispose(ctx context.Context) {
	if h.disposed.Swap(true) {
		return
	}
	h.state.Store(int32(StateDisposing))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.DisposeTimeout)
	defer cancel()
	ctx, span := h.tracer.Start(ctx, "circuit.dispose",
		trace.WithAttributes(attribute.String("circuit.id", h.id.ID())))
	defer span.End()

	err := h.dispatcher.Invoke(ctx, func(ctx context.Context) error {
		h.handle.clear()
		h.disposeStep("connection_down_handlers", func() error {
			return h.handlers.connectionDown(ctx, h.circuit)
		})
		h.disposeStep("closed_handlers", func() error {
			return h.handlers.closed(ctx, h.circuit)
		})
		h.disposeStep("block_interop", func() error {
			if h.interop != nil {
				h.interop.Block()
			}
			return nil
		})
		h.disposeStep("dispose_renderer", func() error {
			return h.renderer.Dispose(ctx)
		})
		h.disposeStep("abandon_pending", func() error {
			h.calls.Abandon(ErrDisposed)
			h.streams.Abandon(ErrDisposed)
			return nil
		})
		return nil
	})
	if err != nil {
		// The dispatcher may already be gone; teardown still completes.
		h.logger.Error("teardown dispatch failed", "error", err)
	}

	h.state.Store(int32(StateDisposed))
	h.metrics.circuitClosed()
	h.dispatcher.Stop()
	h.logger.Info("circuit disposed")
}

// disposeStep runs one teardown step, containing its failure so the next
// step still runs.
func (h *Host) disposeStep(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("teardown step panicked",
				"step", step,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	if err := fn(); err != nil {
		h.logger.Error("teardown step failed", "step", step, "error", err)
	}
}

// Disposed reports whether teardown has begun.
func (h *Host) Disposed() bool { return h.disposed.Load() }

// FatallyFailed reports whether a fatal render-pipeline failure has been
// recorded. The circuit owner uses this when deciding whether a failure
// received from Failures warrants teardown.
func (h *Host) FatallyFailed() bool { return h.fatalReported.Load() }

// =============================================================================
// Interop entry points (inbound from the transport layer)
// =============================================================================

// acceptsInterop guards every interop entry point: calls are rejected
// before initialization completes and after disposal begins.
func (h *Host) acceptsInterop() error {
	if h.disposed.Load() {
		return ErrDisposed
	}
	if !h.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// BeginInvoke dispatches a method invocation originating from the client.
// Returns only protocol/usage errors; dispatch failures are client data,
// handled on the error-reporting and failure-signal paths.
func (h *Host) BeginInvoke(ctx context.Context, callID uint64, target, method string, objectID uint64, argsJSON json.RawMessage) error {
	if err := h.acceptsInterop(); err != nil {
		return err
	}
	err := h.invoke(ctx, "begin_invoke", func(ctx context.Context) error {
		if h.interop == nil {
			return fmt.Errorf("circuit: no interop surface for call %d", callID)
		}
		return h.interop.BeginInvoke(ctx, callID, target, method, objectID, argsJSON)
	})
	if err != nil {
		h.handleClientError(ctx, "begin_invoke", err,
			fmt.Sprintf("Invocation of %q failed.", method))
		return nil
	}
	h.metrics.interopCall("ok")
	return nil
}

// EndInvoke resolves a server-issued correlated call with the client's
// result. Unknown call ids are client data, not faults.
func (h *Host) EndInvoke(ctx context.Context, asyncCallID uint64, succeeded bool, payload json.RawMessage) error {
	if err := h.acceptsInterop(); err != nil {
		return err
	}
	err := h.invoke(ctx, "end_invoke", func(ctx context.Context) error {
		if !h.calls.Complete(asyncCallID, CallResult{Succeeded: succeeded, Payload: payload}) {
			return fmt.Errorf("%w: %d", ErrUnknownCall, asyncCallID)
		}
		return nil
	})
	if err != nil {
		h.handleClientError(ctx, "end_invoke", err, "Invalid call completion.")
		return nil
	}
	h.metrics.interopCall("ok")
	return nil
}

// ReceiveByteArray delivers an out-of-band binary payload from the client
// to the interop surface.
func (h *Host) ReceiveByteArray(ctx context.Context, id uint64, data []byte) error {
	if err := h.acceptsInterop(); err != nil {
		return err
	}
	err := h.invoke(ctx, "receive_byte_array", func(ctx context.Context) error {
		if h.interop == nil {
			return fmt.Errorf("circuit: no interop surface for byte array %d", id)
		}
		return h.interop.SupplyByteArray(ctx, id, data)
	})
	if err != nil {
		h.handleClientError(ctx, "receive_byte_array", err, "Invalid byte array transfer.")
	}
	return nil
}

// ReceiveJSDataChunk applies one chunk of a client-to-server stream
// transfer. The returned bool tells the transport whether to keep sending
// chunks for this stream.
func (h *Host) ReceiveJSDataChunk(ctx context.Context, streamID, chunkID uint64, data []byte, errMsg string) (bool, error) {
	if err := h.acceptsInterop(); err != nil {
		return false, err
	}
	var keep bool
	err := h.invoke(ctx, "receive_stream_chunk", func(ctx context.Context) error {
		var chunkErr error
		keep, chunkErr = h.streams.ReceiveChunk(streamID, chunkID, data, errMsg)
		if chunkErr == nil {
			h.metrics.streamReceived(len(data))
		}
		return chunkErr
	})
	if err != nil {
		h.metrics.streamFailed()
		h.handleClientError(ctx, "receive_stream_chunk", err, "Stream transfer failed.")
		return false, nil
	}
	return keep, nil
}

// OnLocationChanged dispatches a client-side navigation.
func (h *Host) OnLocationChanged(ctx context.Context, uri string, intercepted bool) error {
	if err := h.acceptsInterop(); err != nil {
		return err
	}
	err := h.invoke(ctx, "location_changed", func(ctx context.Context) error {
		if h.navigator == nil {
			return nil
		}
		return h.navigator.LocationChanged(ctx, uri, intercepted)
	})
	if err != nil {
		h.handleClientError(ctx, "location_changed", err, "Location change failed.")
	}
	return nil
}

// OnRenderCompleted applies a client render acknowledgment. Renderer
// failures here originate inside the render pipeline and are fatal.
func (h *Host) OnRenderCompleted(ctx context.Context, renderID uint64, errMsg string) error {
	if err := h.acceptsInterop(); err != nil {
		return err
	}
	err := h.invoke(ctx, "render_completed", func(ctx context.Context) error {
		return h.renderer.OnRenderAck(renderID, errMsg)
	})
	if err != nil {
		h.handleFatalError(err)
	}
	return nil
}

// SendPendingBatches instructs the renderer to re-send buffered render
// batches, typically after a reconnect. Renderer failures are fatal.
func (h *Host) SendPendingBatches(ctx context.Context) error {
	if err := h.acceptsInterop(); err != nil {
		return err
	}
	err := h.invoke(ctx, "send_pending_batches", func(ctx context.Context) error {
		return h.renderer.FlushBatches(ctx)
	})
	if err != nil {
		h.handleFatalError(err)
	}
	return nil
}

// =============================================================================
// Server-side correlation surfaces (used by interop collaborators)
// =============================================================================

// RegisterPendingCall records a server-issued cross-boundary call and
// returns its id and result channel.
func (h *Host) RegisterPendingCall(ctx context.Context) (uint64, <-chan CallResult, error) {
	if h.disposed.Load() {
		return 0, nil, ErrDisposed
	}
	var (
		id uint64
		ch <-chan CallResult
	)
	err := h.invoke(ctx, "register_pending_call", func(context.Context) error {
		id, ch = h.calls.Register()
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return id, ch, nil
}

// ExpectStream registers an inbound stream id ahead of its chunks.
func (h *Host) ExpectStream(ctx context.Context, streamID uint64) (<-chan TransferResult, error) {
	if h.disposed.Load() {
		return nil, ErrDisposed
	}
	var results <-chan TransferResult
	err := h.invoke(ctx, "expect_stream", func(context.Context) error {
		var expectErr error
		results, expectErr = h.streams.Expect(streamID)
		return expectErr
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// OfferStream registers a stream id as available for outbound sending.
func (h *Host) OfferStream(ctx context.Context, streamID uint64) error {
	if h.disposed.Load() {
		return ErrDisposed
	}
	return h.invoke(ctx, "offer_stream", func(context.Context) error {
		h.streams.OfferSend(streamID)
		return nil
	})
}

// ClaimPendingStream claims a stream id for outbound sending, at most
// once per id.
func (h *Host) ClaimPendingStream(ctx context.Context, streamID uint64) error {
	if h.disposed.Load() {
		return ErrDisposed
	}
	return h.invoke(ctx, "claim_stream", func(context.Context) error {
		return h.streams.ClaimSend(streamID)
	})
}

// =============================================================================
// Error routing
// =============================================================================

// invoke runs fn on the dispatcher with tracing and latency observation.
func (h *Host) invoke(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := h.tracer.Start(ctx, "circuit."+op,
		trace.WithAttributes(attribute.String("circuit.id", h.id.ID())))
	defer span.End()

	start := time.Now()
	err := h.dispatcher.Invoke(ctx, fn)
	h.metrics.observeDispatch(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// handleClientError treats err as client data, not a server fault: log,
// best-effort notify the client (detailed or sanitized per config), emit
// a non-terminating failure, keep running.
func (h *Host) handleClientError(ctx context.Context, op string, err error, hint string) {
	// A panic escaping dispatched work is a server fault, not bad input.
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		h.handleFatalError(err)
		return
	}
	h.metrics.interopCall("error")
	wrapped := NewOpError(h.id.ID(), op, err)
	h.logger.Warn("client interop error", "op", op, "error", err)
	h.reporter.Report(ctx, h.clientProxy(), wrapped, hint)
	h.emitFailure(wrapped, false)
}

// handleFatalError handles failures originating from the renderer or the
// dispatcher's own execution: application code inside the render pipeline
// cannot be safely continued. Exactly one client error message and one
// failure signal are produced, however many internal sources trigger
// concurrently. The owner decides to dispose.
func (h *Host) handleFatalError(err error) {
	h.logger.Error("fatal circuit error", "error", err)
	h.metrics.fatalError()
	if !h.fatalReported.CompareAndSwap(false, true) {
		return
	}
	h.reporter.Report(context.Background(), h.clientProxy(), err,
		"The circuit has failed and will be terminated.")
	h.emitFailure(err, false)
}
