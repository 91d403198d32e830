// Package server exposes circuits over HTTP: it upgrades connections to
// WebSocket, performs the circuit handshake, and feeds inbound messages
// into the circuit host entry points. Wire framing beyond the JSON
// envelope is not this package's concern; the circuit package never sees
// it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alte-co-jp/aspnetcore/pkg/circuit"
	"github.com/alte-co-jp/aspnetcore/pkg/circuit/statestore"
	"github.com/alte-co-jp/aspnetcore/pkg/transport"
)

// HostFactory builds the collaborators for a new circuit and returns its
// host. The server owns registration, initialization, and teardown.
type HostFactory func(id circuit.ID, proxy circuit.ClientProxy) (*circuit.Host, error)

// Server accepts circuit connections over WebSocket.
type Server struct {
	config     *Config
	registry   *circuit.Registry
	factory    HostFactory
	stateStore statestore.Store
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server. The state store is optional; when nil, circuits
// initialize without saved prerender state.
func New(config *Config, factory HostFactory, store statestore.Store, logger *slog.Logger) *Server {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "circuit_server")

	s := &Server{
		config:     config,
		registry:   circuit.NewRegistry(config.Registry, logger, nil),
		factory:    factory,
		stateStore: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger,
	}

	r := chi.NewRouter()
	r.Get("/_circuit", s.handleCircuit)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:    config.Address,
		Handler: r,
	}
	return s
}

// Registry returns the circuit registry.
func (s *Server) Registry() *circuit.Registry {
	return s.registry
}

// Handler returns the server's HTTP handler, for mounting in external
// routers or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts accepting connections. It blocks until Shutdown
// or a listener failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("circuit server listening", "address", s.config.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and disposes every circuit.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.registry.Close(ctx)
	return err
}

// handleCircuit upgrades the connection and runs the circuit handshake
// followed by the read loop.
func (s *Server) handleCircuit(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(s.config.MaxMessageSize)

	proxy := transport.NewWebSocketProxy(conn, nil, s.logger)

	handshake, err := s.readMessage(conn)
	if err != nil {
		s.logger.Warn("handshake read failed", "error", err)
		proxy.Close()
		return
	}

	ctx := context.Background()
	var host *circuit.Host
	switch handshake.Type {
	case "connect":
		host, err = s.connect(ctx, handshake, proxy)
	case "reconnect":
		host, err = s.reconnect(ctx, handshake, proxy)
	default:
		s.logger.Warn("unexpected handshake message", "type", handshake.Type)
		proxy.Close()
		return
	}
	if err != nil {
		s.logger.Error("circuit handshake failed", "type", handshake.Type, "error", err)
		proxy.SendError(ctx, "Connection rejected.")
		proxy.Close()
		return
	}

	s.readLoop(ctx, host, conn, proxy)
}

// connect creates, registers, and initializes a fresh circuit.
func (s *Server) connect(ctx context.Context, handshake *inboundMessage, proxy *transport.WebSocketProxy) (*circuit.Host, error) {
	id := circuit.NewID()
	host, err := s.factory(id, proxy)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(host); err != nil {
		host.Dispose(ctx)
		return nil, err
	}

	descriptors := make([]circuit.ComponentDescriptor, 0, len(handshake.Components))
	for _, comp := range handshake.Components {
		descriptors = append(descriptors, circuit.ComponentDescriptor{
			TypeName: comp.Type,
			Params:   comp.Params,
			Sequence: comp.Sequence,
		})
	}

	var saved circuit.SavedState
	if s.stateStore != nil {
		saved = statestore.Scoped(s.stateStore, id.ID())
	}
	if err := host.Initialize(ctx, descriptors, saved); err != nil {
		s.registry.Terminate(ctx, id.ID())
		return nil, err
	}

	go s.watchFailures(host)

	reply := connectedReply{Type: "connected", CircuitID: id.ID(), Secret: id.Secret()}
	if err := proxy.SendJSON(ctx, reply); err != nil {
		// The client never learned the circuit id; the circuit would
		// otherwise sit registered as connected forever.
		s.registry.Terminate(ctx, id.ID())
		return nil, err
	}
	return host, nil
}

// reconnect reattaches a transport to an existing circuit.
func (s *Server) reconnect(ctx context.Context, handshake *inboundMessage, proxy *transport.WebSocketProxy) (*circuit.Host, error) {
	host, err := s.registry.Reconnect(ctx, handshake.CircuitID, handshake.Secret, proxy)
	if err != nil {
		return nil, err
	}

	reply := connectedReply{Type: "reconnected", CircuitID: handshake.CircuitID}
	if err := proxy.SendJSON(ctx, reply); err != nil {
		// Put the circuit back in the disconnected, evictable state.
		if lostErr := s.registry.ConnectionLost(ctx, handshake.CircuitID); lostErr != nil {
			s.logger.Warn("connection down handlers failed", "circuit_id", handshake.CircuitID, "error", lostErr)
		}
		return nil, err
	}

	// Replay whatever the client missed while disconnected.
	if err := host.SendPendingBatches(ctx); err != nil {
		s.logger.Warn("pending batch replay rejected", "error", err)
	}
	return host, nil
}

// readLoop demultiplexes inbound messages into circuit entry points until
// the connection drops.
func (s *Server) readLoop(ctx context.Context, host *circuit.Host, conn *websocket.Conn, proxy *transport.WebSocketProxy) {
	circuitID := host.ID().ID()
	defer func() {
		proxy.Close()
		if !host.Disposed() {
			if err := s.registry.ConnectionLost(ctx, circuitID); err != nil && !errors.Is(err, circuit.ErrCircuitNotFound) {
				s.logger.Warn("connection down handlers failed", "circuit_id", circuitID, "error", err)
			}
		}
	}()

	for {
		msg, err := s.readMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "circuit_id", circuitID, "error", err)
			}
			return
		}
		if err := s.dispatch(ctx, host, proxy, msg); err != nil {
			// Protocol/usage errors go back to the client; the circuit
			// handles everything else internally.
			s.logger.Warn("message rejected", "circuit_id", circuitID, "type", msg.Type, "error", err)
			proxy.SendError(ctx, err.Error())
		}
	}
}

// dispatch routes one message to the matching circuit entry point.
func (s *Server) dispatch(ctx context.Context, host *circuit.Host, proxy *transport.WebSocketProxy, msg *inboundMessage) error {
	switch msg.Type {
	case "beginInvoke":
		return host.BeginInvoke(ctx, msg.CallID, msg.Target, msg.Method, msg.ObjectID, msg.Args)

	case "endInvoke":
		return host.EndInvoke(ctx, msg.CallID, msg.Succeeded, msg.Payload)

	case "byteArray":
		return host.ReceiveByteArray(ctx, msg.CallID, msg.Data)

	case "streamChunk":
		keep, err := host.ReceiveJSDataChunk(ctx, msg.StreamID, msg.ChunkID, msg.Data, msg.Error)
		if err != nil {
			return err
		}
		return proxy.SendJSON(ctx, streamAck{Type: "streamAck", StreamID: msg.StreamID, Continue: keep})

	case "renderCompleted":
		return host.OnRenderCompleted(ctx, msg.RenderID, msg.Error)

	case "locationChanged":
		return host.OnLocationChanged(ctx, msg.URI, msg.Intercepted)

	case "pendingBatches":
		return host.SendPendingBatches(ctx)

	default:
		s.logger.Warn("unknown message type", "type", msg.Type)
		return nil
	}
}

// readMessage reads and decodes one inbound message with the read
// deadline applied.
func (s *Server) readMessage(conn *websocket.Conn) (*inboundMessage, error) {
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// watchFailures drains a circuit's failure channel. Fatal failures
// terminate the circuit; everything else is logged and the circuit keeps
// running.
func (s *Server) watchFailures(host *circuit.Host) {
	circuitID := host.ID().ID()
	for {
		select {
		case failure := <-host.Failures():
			s.logger.Error("circuit failure",
				"circuit_id", circuitID,
				"error", failure.Err,
				"terminating", failure.Terminating)
			if host.FatallyFailed() {
				s.registry.Terminate(context.Background(), circuitID)
				return
			}
		case <-host.Done():
			return
		}
	}
}
