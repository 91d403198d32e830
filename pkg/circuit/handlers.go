package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Handler observes circuit lifecycle transitions. Handlers are registered
// before the circuit exists and invoked in registration order on the
// dispatcher. A handler's failure never prevents the remaining handlers
// from running; collected failures are joined after the full pass.
type Handler interface {
	// OnCircuitOpened runs once, when the circuit is first initialized.
	OnCircuitOpened(ctx context.Context, c *Circuit) error

	// OnConnectionUp runs every time a transport connects, including the
	// initial connection.
	OnConnectionUp(ctx context.Context, c *Circuit) error

	// OnConnectionDown runs every time the transport disconnects.
	OnConnectionDown(ctx context.Context, c *Circuit) error

	// OnCircuitClosed runs once, during teardown.
	OnCircuitClosed(ctx context.Context, c *Circuit) error
}

// handlerChain invokes every registered handler for a transition,
// isolating individual failures and panics.
type handlerChain struct {
	handlers []Handler
	logger   *slog.Logger
}

// invoke runs fn against each handler in registration order. Every handler
// runs even when earlier ones fail; the result joins all failures.
func (hc *handlerChain) invoke(transition string, fn func(Handler) error) error {
	var errs []error
	for _, handler := range hc.handlers {
		if err := hc.invokeOne(transition, handler, fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// invokeOne runs one handler with panic recovery.
func (hc *handlerChain) invokeOne(transition string, handler Handler, fn func(Handler) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			hc.logger.Error("circuit handler panicked",
				"transition", transition,
				"handler", fmt.Sprintf("%T", handler),
				"panic", r,
				"stack", string(stack))
			err = &PanicError{Op: transition, Panic: r, Stack: stack}
		}
	}()
	return fn(handler)
}

func (hc *handlerChain) opened(ctx context.Context, c *Circuit) error {
	return hc.invoke("OnCircuitOpened", func(h Handler) error {
		return h.OnCircuitOpened(ctx, c)
	})
}

func (hc *handlerChain) connectionUp(ctx context.Context, c *Circuit) error {
	return hc.invoke("OnConnectionUp", func(h Handler) error {
		return h.OnConnectionUp(ctx, c)
	})
}

func (hc *handlerChain) connectionDown(ctx context.Context, c *Circuit) error {
	return hc.invoke("OnConnectionDown", func(h Handler) error {
		return h.OnConnectionDown(ctx, c)
	})
}

func (hc *handlerChain) closed(ctx context.Context, c *Circuit) error {
	return hc.invoke("OnCircuitClosed", func(h Handler) error {
		return h.OnCircuitClosed(ctx, c)
	})
}
