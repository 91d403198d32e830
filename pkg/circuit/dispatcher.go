package circuit

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// Dispatcher is the serialized execution context for one circuit. Work
// submitted from any goroutine runs strictly one at a time, in submission
// order, on a single loop goroutine. Submitting from inside running work
// executes inline, so nested submission cannot deadlock.
type Dispatcher struct {
	work    chan *workItem
	quit    chan struct{}
	drained chan struct{}
	stopped atomic.Bool
	logger  *slog.Logger
}

type workItem struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// loopKey marks contexts that are executing on a dispatcher loop.
type loopKey struct{}

// NewDispatcher creates a dispatcher and starts its loop goroutine.
func NewDispatcher(queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		work:    make(chan *workItem, queueSize),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
		logger:  logger,
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.drained)
	for {
		select {
		case item := <-d.work:
			item.done <- d.run(item.ctx, item.fn)
		case <-d.quit:
			// Fail anything still queued so callers unblock.
			for {
				select {
				case item := <-d.work:
					item.done <- ErrDispatcherStopped
				default:
					return
				}
			}
		}
	}
}

// run executes one unit of work with the on-loop marker set and panic
// recovery. Panics surface to the submitter as a PanicError.
func (d *Dispatcher) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			d.logger.Error("dispatched work panicked",
				"panic", r,
				"stack", string(stack))
			err = &PanicError{Op: "dispatch", Panic: r, Stack: stack}
		}
	}()
	return fn(context.WithValue(ctx, loopKey{}, d))
}

// Invoke submits fn and blocks until it has run. When called from work
// already executing on this dispatcher, fn runs inline; execution is
// already serialized.
func (d *Dispatcher) Invoke(ctx context.Context, fn func(context.Context) error) error {
	if OnLoop(ctx, d) {
		return fn(ctx)
	}
	if d.stopped.Load() {
		return ErrDispatcherStopped
	}

	item := &workItem{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case d.work <- item:
	case <-d.quit:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		// The work still runs; the caller stops waiting for it.
		return ctx.Err()
	}
}

// Stop shuts the loop down. Queued work fails with ErrDispatcherStopped.
// Idempotent.
func (d *Dispatcher) Stop() {
	if d.stopped.Swap(true) {
		return
	}
	close(d.quit)
}

// Done returns a channel closed once the loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.drained
}

// OnLoop reports whether ctx is executing on dispatcher d. Code that must
// only run serialized can assert this.
func OnLoop(ctx context.Context, d *Dispatcher) bool {
	v, _ := ctx.Value(loopKey{}).(*Dispatcher)
	return v == d
}

// AssertOnLoop panics if ctx is not executing on dispatcher d. Accessing
// renderer or session state off the loop is a programming error.
func AssertOnLoop(ctx context.Context, d *Dispatcher) {
	if !OnLoop(ctx, d) {
		panic("circuit: state accessed outside the dispatcher")
	}
}
