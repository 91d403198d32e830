package circuit

import (
	"errors"
	"strings"
	"testing"
)

func drainTransfer(t *testing.T, ch <-chan TransferResult) TransferResult {
	t.Helper()
	select {
	case result := <-ch:
		return result
	default:
		t.Fatal("no transfer result delivered")
		return TransferResult{}
	}
}

func TestStreamReassembly(t *testing.T) {
	r := NewStreamReassembler(0)
	results, err := r.Expect(1)
	if err != nil {
		t.Fatalf("Expect error: %v", err)
	}

	if keep, err := r.ReceiveChunk(1, 0, []byte("ab"), ""); err != nil || !keep {
		t.Fatalf("chunk 0: keep=%v err=%v", keep, err)
	}
	if keep, err := r.ReceiveChunk(1, 1, []byte("cd"), ""); err != nil || !keep {
		t.Fatalf("chunk 1: keep=%v err=%v", keep, err)
	}
	if keep, err := r.ReceiveChunk(1, 2, nil, ""); err != nil || keep {
		t.Fatalf("final chunk: keep=%v err=%v", keep, err)
	}

	result := drainTransfer(t, results)
	if result.Err != nil {
		t.Fatalf("transfer error: %v", result.Err)
	}
	if got := string(result.Data); got != "abcd" {
		t.Errorf("reassembled = %q, want %q", got, "abcd")
	}
	if r.Pending() != 0 {
		t.Errorf("pending = %d after completion, want 0", r.Pending())
	}
}

func TestStreamDuplicateRegistration(t *testing.T) {
	r := NewStreamReassembler(0)
	if _, err := r.Expect(7); err != nil {
		t.Fatalf("Expect error: %v", err)
	}
	if _, err := r.Expect(7); err == nil {
		t.Error("duplicate Expect should fail")
	}
}

func TestStreamUnknownID(t *testing.T) {
	r := NewStreamReassembler(0)
	if _, err := r.ReceiveChunk(42, 0, []byte("x"), ""); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("err = %v, want ErrUnknownStream", err)
	}
}

func TestStreamErrorChunkAborts(t *testing.T) {
	r := NewStreamReassembler(0)
	results, _ := r.Expect(2)

	r.ReceiveChunk(2, 0, []byte("partial"), "")
	keep, err := r.ReceiveChunk(2, 1, nil, "client gave up")
	if err != nil || keep {
		t.Fatalf("error chunk: keep=%v err=%v, want false,nil", keep, err)
	}

	result := drainTransfer(t, results)
	if result.Err == nil {
		t.Fatal("transfer should fail")
	}
	if !strings.Contains(result.Err.Error(), "client gave up") {
		t.Errorf("failure %v should carry the client message", result.Err)
	}
	if result.Data != nil {
		t.Errorf("partial buffer delivered: %q", result.Data)
	}
}

func TestStreamOutOfOrderChunk(t *testing.T) {
	r := NewStreamReassembler(0)
	results, _ := r.Expect(3)

	r.ReceiveChunk(3, 0, []byte("aa"), "")
	keep, err := r.ReceiveChunk(3, 2, []byte("bb"), "")
	if err == nil || keep {
		t.Fatalf("out-of-order chunk: keep=%v err=%v, want failure", keep, err)
	}

	result := drainTransfer(t, results)
	if result.Err == nil || result.Data != nil {
		t.Errorf("result = %+v, want failure without data", result)
	}

	// The id is consumed; later chunks are unknown.
	if _, err := r.ReceiveChunk(3, 3, []byte("cc"), ""); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("chunk after failure = %v, want ErrUnknownStream", err)
	}
}

func TestStreamCompletionChunkMustBeInSequence(t *testing.T) {
	r := NewStreamReassembler(0)
	results, _ := r.Expect(4)

	if _, err := r.ReceiveChunk(4, 0, []byte("ab"), ""); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if _, err := r.ReceiveChunk(4, 1, []byte("cd"), ""); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}

	// A stale completion chunk must fail the transfer, not deliver a
	// truncated buffer.
	keep, err := r.ReceiveChunk(4, 0, nil, "")
	if err == nil || keep {
		t.Fatalf("stale completion: keep=%v err=%v, want failure", keep, err)
	}

	result := drainTransfer(t, results)
	if result.Err == nil {
		t.Fatal("transfer should fail on an out-of-sequence completion chunk")
	}
	if result.Data != nil {
		t.Errorf("truncated buffer delivered: %q", result.Data)
	}
}

func TestStreamSizeLimit(t *testing.T) {
	r := NewStreamReassembler(4)
	results, _ := r.Expect(5)

	if _, err := r.ReceiveChunk(5, 0, []byte("abcd"), ""); err != nil {
		t.Fatalf("chunk at limit: %v", err)
	}
	if _, err := r.ReceiveChunk(5, 1, []byte("e"), ""); !errors.Is(err, ErrStreamTooLarge) {
		t.Fatalf("chunk over limit = %v, want ErrStreamTooLarge", err)
	}

	result := drainTransfer(t, results)
	if !errors.Is(result.Err, ErrStreamTooLarge) {
		t.Errorf("result err = %v, want ErrStreamTooLarge", result.Err)
	}
}

func TestStreamClaimSend(t *testing.T) {
	r := NewStreamReassembler(0)

	if err := r.ClaimSend(9); !errors.Is(err, ErrStreamUnavailable) {
		t.Errorf("claim of unknown id = %v, want ErrStreamUnavailable", err)
	}

	r.OfferSend(9)
	if err := r.ClaimSend(9); err != nil {
		t.Fatalf("first claim error: %v", err)
	}
	if err := r.ClaimSend(9); !errors.Is(err, ErrStreamUnavailable) {
		t.Errorf("second claim = %v, want ErrStreamUnavailable", err)
	}
}

func TestStreamAbandon(t *testing.T) {
	r := NewStreamReassembler(0)
	first, _ := r.Expect(1)
	second, _ := r.Expect(2)
	r.OfferSend(3)

	r.Abandon(ErrDisposed)

	for _, ch := range []<-chan TransferResult{first, second} {
		result := drainTransfer(t, ch)
		if !errors.Is(result.Err, ErrDisposed) {
			t.Errorf("abandoned result err = %v, want ErrDisposed", result.Err)
		}
	}
	if err := r.ClaimSend(3); !errors.Is(err, ErrStreamUnavailable) {
		t.Errorf("claim after abandon = %v, want ErrStreamUnavailable", err)
	}
}
