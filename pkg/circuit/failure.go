package circuit

// Failure is an out-of-band failure emitted by a circuit. The circuit
// owner receives these from Host.Failures and decides whether to tear the
// circuit down.
type Failure struct {
	// Err is the underlying failure.
	Err error

	// Terminating reports whether the circuit has already begun tearing
	// itself down. Fatal render-pipeline failures are delivered with
	// Terminating false: the listener owns the decision to dispose.
	Terminating bool
}

// emitFailure delivers a failure to the owner without blocking the
// dispatcher. A full queue is logged rather than silently dropped.
func (h *Host) emitFailure(err error, terminating bool) {
	select {
	case h.failures <- Failure{Err: err, Terminating: terminating}:
	default:
		h.logger.Error("failure queue full, failure not delivered to owner",
			"error", err,
			"terminating", terminating)
	}
}

// Failures returns the channel on which out-of-band failures are
// delivered. The channel is never closed; stop receiving once the circuit
// is disposed.
func (h *Host) Failures() <-chan Failure {
	return h.failures
}
