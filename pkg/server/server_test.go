package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alte-co-jp/aspnetcore/pkg/circuit"
	"github.com/alte-co-jp/aspnetcore/pkg/circuit/statestore"
	"github.com/alte-co-jp/aspnetcore/pkg/transport"
)

// stubRenderer acknowledges every render immediately.
type stubRenderer struct {
	mu        sync.Mutex
	added     []circuit.ComponentDescriptor
	unhandled func(error)
}

func (r *stubRenderer) AddComponent(ctx context.Context, desc circuit.ComponentDescriptor) (<-chan error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, desc)
	ch := make(chan error, 1)
	ch <- nil
	return ch, nil
}

func (r *stubRenderer) OnRenderAck(renderID uint64, errMsg string) error { return nil }
func (r *stubRenderer) FlushBatches(ctx context.Context) error           { return nil }
func (r *stubRenderer) SetUnhandledErrorHandler(fn func(error))          { r.unhandled = fn }
func (r *stubRenderer) Dispose(ctx context.Context) error                { return nil }

func (r *stubRenderer) components() []circuit.ComponentDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]circuit.ComponentDescriptor, len(r.added))
	copy(out, r.added)
	return out
}

// stubInterop records dispatched calls.
type stubInterop struct {
	mu      sync.Mutex
	invokes []string
}

func (i *stubInterop) BeginInvoke(ctx context.Context, callID uint64, target, method string, objectID uint64, argsJSON json.RawMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.invokes = append(i.invokes, target+"."+method)
	return nil
}

func (i *stubInterop) SupplyByteArray(ctx context.Context, id uint64, data []byte) error { return nil }
func (i *stubInterop) Block()                                                            {}

func (i *stubInterop) calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.invokes))
	copy(out, i.invokes)
	return out
}

// testEnv bundles a running server with hooks into the circuits it
// creates.
type testEnv struct {
	server   *Server
	url      string
	hosts    chan *circuit.Host
	renderer *stubRenderer
	interop  *stubInterop
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		hosts:    make(chan *circuit.Host, 4),
		renderer: &stubRenderer{},
		interop:  &stubInterop{},
	}

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	factory := func(id circuit.ID, proxy circuit.ClientProxy) (*circuit.Host, error) {
		host, err := circuit.NewHost(circuit.HostOptions{
			ID:       id,
			Renderer: env.renderer,
			Interop:  env.interop,
			Proxy:    proxy,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		env.hosts <- host
		return host, nil
	}

	env.server = New(&Config{}, factory, statestore.NewMemoryStore(), logger)
	httpSrv := httptest.NewServer(env.server.Handler())
	t.Cleanup(func() {
		env.server.Shutdown(context.Background())
		httpSrv.Close()
	})
	env.url = "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/_circuit"
	return env
}

// testWriter routes server logs through the test log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	return msg
}

// connect performs the connect handshake and waits for initialization.
func (env *testEnv) connect(t *testing.T, conn *websocket.Conn) (*circuit.Host, string, string) {
	t.Helper()

	sendJSON(t, conn, map[string]any{
		"type": "connect",
		"components": []map[string]any{
			{"type": "counter", "sequence": 0},
		},
	})

	reply := readJSON(t, conn)
	if reply["type"] != "connected" {
		t.Fatalf("handshake reply = %v", reply)
	}
	circuitID, _ := reply["circuitId"].(string)
	secret, _ := reply["secret"].(string)
	if circuitID == "" || secret == "" {
		t.Fatalf("reply missing identity: %v", reply)
	}

	var host *circuit.Host
	select {
	case host = <-env.hosts:
	case <-time.After(2 * time.Second):
		t.Fatal("factory never ran")
	}
	select {
	case <-host.InitComplete():
	case <-time.After(2 * time.Second):
		t.Fatal("circuit never initialized")
	}
	if !host.Initialized() {
		t.Fatal("circuit initialization failed")
	}
	return host, circuitID, secret
}

func TestServerConnectHandshake(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	host, circuitID, _ := env.connect(t, conn)

	if host.ID().ID() != circuitID {
		t.Errorf("reply circuit id %q != host id %q", circuitID, host.ID().ID())
	}
	comps := env.renderer.components()
	if len(comps) != 1 || comps[0].TypeName != "counter" {
		t.Errorf("components = %+v", comps)
	}
	if env.server.Registry().Handle(circuitID) == nil {
		t.Error("circuit should be registered")
	}
}

func TestServerBeginInvoke(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	env.connect(t, conn)

	sendJSON(t, conn, map[string]any{
		"type":   "beginInvoke",
		"callId": 1,
		"target": "Counter",
		"method": "Increment",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := env.interop.calls(); len(calls) == 1 && calls[0] == "Counter.Increment" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("interop calls = %v, want [Counter.Increment]", env.interop.calls())
}

func TestServerStreamChunks(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	host, _, _ := env.connect(t, conn)

	results, err := host.ExpectStream(context.Background(), 7)
	if err != nil {
		t.Fatalf("ExpectStream error: %v", err)
	}

	for i, chunk := range [][]byte{[]byte("ab"), []byte("cd")} {
		sendJSON(t, conn, map[string]any{
			"type": "streamChunk", "streamId": 7, "chunkId": i, "data": chunk,
		})
		ack := readJSON(t, conn)
		if ack["type"] != "streamAck" || ack["continue"] != true {
			t.Fatalf("ack %d = %v", i, ack)
		}
	}
	sendJSON(t, conn, map[string]any{"type": "streamChunk", "streamId": 7, "chunkId": 2})
	ack := readJSON(t, conn)
	if ack["type"] != "streamAck" || ack["continue"] != false {
		t.Fatalf("final ack = %v", ack)
	}

	select {
	case result := <-results:
		if result.Err != nil {
			t.Fatalf("transfer error: %v", result.Err)
		}
		if string(result.Data) != "abcd" {
			t.Errorf("reassembled = %q, want %q", result.Data, "abcd")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transfer never completed")
	}
}

func TestServerReconnect(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	host, circuitID, secret := env.connect(t, conn)

	conn.Close()
	waitState(t, host, circuit.StateDisconnected)

	again := env.dial(t)
	sendJSON(t, again, map[string]any{
		"type": "reconnect", "circuitId": circuitID, "secret": secret,
	})
	reply := readJSON(t, again)
	if reply["type"] != "reconnected" || reply["circuitId"] != circuitID {
		t.Fatalf("reconnect reply = %v", reply)
	}
	waitState(t, host, circuit.StateActive)
}

func TestServerReconnectWrongSecret(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	host, circuitID, _ := env.connect(t, conn)

	conn.Close()
	waitState(t, host, circuit.StateDisconnected)

	again := env.dial(t)
	sendJSON(t, again, map[string]any{
		"type": "reconnect", "circuitId": circuitID, "secret": "forged",
	})
	reply := readJSON(t, again)
	if reply["type"] != "error" {
		t.Fatalf("reply = %v, want rejection", reply)
	}
	if msg, _ := reply["message"].(string); strings.Contains(msg, "secret") {
		t.Errorf("rejection %q must not hint at the secret check", msg)
	}

	// The circuit survives the failed attempt.
	if env.server.Registry().Handle(circuitID) == nil {
		t.Error("circuit should still be registered")
	}
}

func TestServerDisconnectKeepsCircuit(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	host, circuitID, _ := env.connect(t, conn)

	conn.Close()
	waitState(t, host, circuit.StateDisconnected)

	if host.Disposed() {
		t.Error("disconnect must not dispose the circuit")
	}
	if env.server.Registry().Handle(circuitID) == nil {
		t.Error("disconnected circuit should remain resumable")
	}
}

func TestServerConnectReplyFailureCleansUp(t *testing.T) {
	env := newTestEnv(t)

	// A proxy with no live connection: the connected reply cannot be
	// delivered, so the client never learns the circuit id.
	dead := transport.NewWebSocketProxy(nil, nil, nil)
	_, err := env.server.connect(context.Background(), &inboundMessage{Type: "connect"}, dead)
	if err == nil {
		t.Fatal("connect with a dead transport should fail")
	}

	var host *circuit.Host
	select {
	case host = <-env.hosts:
	case <-time.After(2 * time.Second):
		t.Fatal("factory never ran")
	}
	if !host.Disposed() {
		t.Error("unreachable circuit must be disposed")
	}
	if got := env.server.Registry().Stats().Active; got != 0 {
		t.Errorf("active circuits = %d, want 0", got)
	}
}

func TestServerReconnectReplyFailureStaysDisconnected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	host, circuitID, secret := env.connect(t, conn)

	conn.Close()
	waitState(t, host, circuit.StateDisconnected)

	dead := transport.NewWebSocketProxy(nil, nil, nil)
	_, err := env.server.reconnect(context.Background(), &inboundMessage{
		Type: "reconnect", CircuitID: circuitID, Secret: secret,
	}, dead)
	if err == nil {
		t.Fatal("reconnect with a dead transport should fail")
	}

	// The circuit goes back to disconnected, still resumable and still
	// subject to eviction.
	waitState(t, host, circuit.StateDisconnected)
	if host.Disposed() {
		t.Error("failed reconnect must not dispose the circuit")
	}
	if env.server.Registry().Handle(circuitID) == nil {
		t.Error("circuit should remain registered")
	}
}

func waitState(t *testing.T, host *circuit.Host, want circuit.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if host.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", host.State(), want)
}
