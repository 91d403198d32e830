package circuit

import "encoding/json"

// CallResult is the outcome of a correlated cross-boundary call.
type CallResult struct {
	Succeeded bool
	Payload   json.RawMessage
	Err       error
}

// CorrelationTable maps outstanding cross-boundary call ids to their
// pending results. It is owned by the dispatcher: all access must happen
// on the circuit's loop, so the table needs no locking of its own.
type CorrelationTable struct {
	pending map[uint64]chan CallResult
	nextID  uint64
}

// NewCorrelationTable creates an empty table.
func NewCorrelationTable() *CorrelationTable {
	return &CorrelationTable{pending: make(map[uint64]chan CallResult)}
}

// Register records a new pending call and returns its id and result
// channel. The channel receives exactly one result.
func (t *CorrelationTable) Register() (uint64, <-chan CallResult) {
	t.nextID++
	id := t.nextID
	ch := make(chan CallResult, 1)
	t.pending[id] = ch
	return id, ch
}

// Complete resolves a pending call exactly once. Returns false when the
// id is unknown or already resolved.
func (t *CorrelationTable) Complete(id uint64, result CallResult) bool {
	ch, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)
	ch <- result
	return true
}

// Abandon fails every outstanding call with err. Used when the circuit
// disposes before results arrive.
func (t *CorrelationTable) Abandon(err error) {
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- CallResult{Err: err}
	}
}

// Pending returns the number of outstanding calls.
func (t *CorrelationTable) Pending() int {
	return len(t.pending)
}
