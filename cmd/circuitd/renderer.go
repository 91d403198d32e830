package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alte-co-jp/aspnetcore/pkg/circuit"
)

// echoRenderer is a minimal Renderer for the demo host: every component
// render completes immediately and render acks are validated only for an
// error message.
type echoRenderer struct {
	logger  *slog.Logger
	onError func(error)
}

var _ circuit.Renderer = (*echoRenderer)(nil)

func newEchoRenderer(logger *slog.Logger) *echoRenderer {
	return &echoRenderer{logger: logger}
}

func (r *echoRenderer) AddComponent(ctx context.Context, desc circuit.ComponentDescriptor) (<-chan error, error) {
	r.logger.Info("component added", "type", desc.TypeName, "sequence", desc.Sequence)
	done := make(chan error, 1)
	done <- nil
	return done, nil
}

func (r *echoRenderer) OnRenderAck(renderID uint64, errMsg string) error {
	if errMsg != "" {
		return fmt.Errorf("render %d failed on client: %s", renderID, errMsg)
	}
	return nil
}

func (r *echoRenderer) FlushBatches(ctx context.Context) error {
	return nil
}

func (r *echoRenderer) SetUnhandledErrorHandler(fn func(error)) {
	r.onError = fn
}

func (r *echoRenderer) Dispose(ctx context.Context) error {
	return nil
}

// echoInterop logs client invocations and echoes byte arrays into the
// log. A real application wires its method dispatch table here.
type echoInterop struct {
	logger *slog.Logger
}

var _ circuit.Interop = (*echoInterop)(nil)

func (i *echoInterop) BeginInvoke(ctx context.Context, callID uint64, target, method string, objectID uint64, argsJSON json.RawMessage) error {
	if target == "" || method == "" {
		return errors.New("missing invocation target")
	}
	i.logger.Info("invoke", "call_id", callID, "target", target, "method", method)
	return nil
}

func (i *echoInterop) SupplyByteArray(ctx context.Context, id uint64, data []byte) error {
	i.logger.Info("byte array received", "id", id, "bytes", len(data))
	return nil
}

func (i *echoInterop) Block() {}
