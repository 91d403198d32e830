package circuit

import (
	"context"
	"fmt"
	"log/slog"
)

// ErrorReporter formats and best-effort delivers diagnostic errors to the
// client. Delivery never becomes a fault of its own: a disconnected
// transport is skipped silently and send failures are logged and
// swallowed.
type ErrorReporter struct {
	detailed bool
	logger   *slog.Logger
}

// NewErrorReporter creates a reporter. When detailed is true the client
// receives full error detail; otherwise a generic circuit-terminated
// notice plus the hint.
func NewErrorReporter(detailed bool, logger *slog.Logger) *ErrorReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorReporter{detailed: detailed, logger: logger}
}

// Report sends err to the client through proxy, if connected.
func (r *ErrorReporter) Report(ctx context.Context, proxy ClientProxy, err error, hint string) {
	if proxy == nil || !proxy.Connected() {
		return
	}
	if sendErr := proxy.SendError(ctx, r.format(err, hint)); sendErr != nil {
		r.logger.Error("failed to report error to client",
			"error", sendErr,
			"original_error", err)
	}
}

// format builds the client-facing message.
func (r *ErrorReporter) format(err error, hint string) string {
	if r.detailed {
		if hint != "" {
			return fmt.Sprintf("%s: %v", hint, err)
		}
		return err.Error()
	}
	msg := "The circuit has been terminated due to an unhandled error."
	if hint != "" {
		msg += " " + hint
	}
	return msg
}
