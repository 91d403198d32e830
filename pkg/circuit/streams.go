package circuit

import (
	"bytes"
	"fmt"
)

// TransferResult is the outcome of a chunked binary transfer: the complete
// reassembled buffer, or a failure. Never a partial buffer.
type TransferResult struct {
	Data []byte
	Err  error
}

// pendingTransfer accumulates chunks for one stream id.
type pendingTransfer struct {
	buf       bytes.Buffer
	nextChunk uint64
	done      chan TransferResult
}

// StreamReassembler reassembles binary payloads sent in chunks identified
// by a stream id and monotonically increasing chunk id. Like the
// correlation table it is owned by the dispatcher and needs no locking.
//
// A stream id is registered by Expect (inbound) or claimed by ClaimSend
// (outbound); either way the id is consumed at most once.
type StreamReassembler struct {
	maxSize   int64
	receiving map[uint64]*pendingTransfer
	sendable  map[uint64]struct{}
}

// NewStreamReassembler creates a reassembler with the given per-transfer
// buffer limit. A non-positive limit disables the check.
func NewStreamReassembler(maxSize int64) *StreamReassembler {
	return &StreamReassembler{
		maxSize:   maxSize,
		receiving: make(map[uint64]*pendingTransfer),
		sendable:  make(map[uint64]struct{}),
	}
}

// Expect registers an inbound stream id and returns the channel that
// delivers the transfer outcome exactly once.
func (r *StreamReassembler) Expect(streamID uint64) (<-chan TransferResult, error) {
	if _, ok := r.receiving[streamID]; ok {
		return nil, fmt.Errorf("circuit: stream %d already registered", streamID)
	}
	pt := &pendingTransfer{done: make(chan TransferResult, 1)}
	r.receiving[streamID] = pt
	return pt.done, nil
}

// OfferSend registers a stream id as available for outbound sending.
func (r *StreamReassembler) OfferSend(streamID uint64) {
	r.sendable[streamID] = struct{}{}
}

// ClaimSend claims a stream id for outbound sending. A second claim, or a
// claim of an unknown id, fails: the id may have timed out.
func (r *StreamReassembler) ClaimSend(streamID uint64) error {
	if _, ok := r.sendable[streamID]; !ok {
		return ErrStreamUnavailable
	}
	delete(r.sendable, streamID)
	return nil
}

// ReceiveChunk applies one chunk to a pending inbound transfer. The
// returned bool tells the transport whether to keep sending chunks for
// this stream.
//
// Chunk ids must arrive in strictly increasing order starting at 0; a
// duplicate or out-of-order chunk fails the transfer without corrupting
// the accumulated buffer (the buffer is discarded, never delivered). An
// error chunk (errMsg non-empty) aborts reassembly. A zero-length chunk
// with no error marks completion and delivers the full buffer.
func (r *StreamReassembler) ReceiveChunk(streamID, chunkID uint64, data []byte, errMsg string) (bool, error) {
	pt, ok := r.receiving[streamID]
	if !ok {
		return false, ErrUnknownStream
	}

	if errMsg != "" {
		r.fail(streamID, pt, fmt.Errorf("circuit: stream %d aborted by client: %s", streamID, errMsg))
		return false, nil
	}

	// The completion chunk must be in sequence too; a stale or replayed
	// chunk id must not terminate the transfer early.
	if chunkID != pt.nextChunk {
		err := fmt.Errorf("circuit: stream %d: out-of-order chunk %d, expected %d", streamID, chunkID, pt.nextChunk)
		r.fail(streamID, pt, err)
		return false, err
	}

	if len(data) == 0 {
		// Final chunk: deliver the complete buffer.
		delete(r.receiving, streamID)
		pt.done <- TransferResult{Data: pt.buf.Bytes()}
		return false, nil
	}

	if r.maxSize > 0 && int64(pt.buf.Len())+int64(len(data)) > r.maxSize {
		r.fail(streamID, pt, ErrStreamTooLarge)
		return false, ErrStreamTooLarge
	}

	pt.buf.Write(data)
	pt.nextChunk++
	return true, nil
}

// fail removes the transfer and delivers its failure.
func (r *StreamReassembler) fail(streamID uint64, pt *pendingTransfer, err error) {
	delete(r.receiving, streamID)
	pt.done <- TransferResult{Err: err}
}

// Abandon fails every pending transfer and forgets every sendable id.
// Used when the circuit disposes mid-transfer.
func (r *StreamReassembler) Abandon(err error) {
	for id, pt := range r.receiving {
		r.fail(id, pt, err)
	}
	r.sendable = make(map[uint64]struct{})
}

// Pending returns the number of inbound transfers in flight.
func (r *StreamReassembler) Pending() int {
	return len(r.receiving)
}
