package circuit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Registry tracks all live circuits and orchestrates connect, disconnect,
// reconnect, and eviction. Transport-layer code resolves circuits through
// the registry's handles, never by owning them.
type Registry struct {
	mu       sync.RWMutex
	circuits map[string]*registration

	config  *RegistryConfig
	logger  *slog.Logger
	metrics *Metrics

	totalOpened atomic.Uint64
	totalClosed atomic.Uint64

	done        chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// registration pairs a host with its connectivity bookkeeping.
type registration struct {
	host           *Host
	connected      bool
	disconnectedAt time.Time
}

// NewRegistry creates a registry and starts its eviction loop.
func NewRegistry(config *RegistryConfig, logger *slog.Logger, metrics *Metrics) *Registry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		circuits:    make(map[string]*registration),
		config:      config,
		logger:      logger.With("component", "circuit_registry"),
		metrics:     metrics,
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Register adds a host as connected. Fails when the registry is at
// capacity.
func (r *Registry) Register(host *Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.MaxCircuits > 0 && len(r.circuits) >= r.config.MaxCircuits {
		return ErrMaxCircuits
	}
	r.circuits[host.ID().ID()] = &registration{host: host, connected: true}
	r.totalOpened.Add(1)
	r.logger.Info("circuit registered", "circuit_id", host.ID().ID(), "active", len(r.circuits))
	return nil
}

// Handle resolves a circuit id to its handle. An empty handle (or a nil
// return) means the circuit is gone.
func (r *Registry) Handle(circuitID string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.circuits[circuitID]
	if !ok {
		return nil
	}
	return reg.host.Handle()
}

// ConnectionLost marks a circuit disconnected and runs its
// OnConnectionDown handlers. The circuit stays resumable for the
// configured window.
func (r *Registry) ConnectionLost(ctx context.Context, circuitID string) error {
	r.mu.Lock()
	reg, ok := r.circuits[circuitID]
	if ok {
		reg.connected = false
		reg.disconnectedAt = time.Now()
	}
	r.mu.Unlock()

	if !ok {
		return ErrCircuitNotFound
	}
	return reg.host.ConnectionDown(ctx)
}

// Reconnect reattaches a transport to a disconnected circuit. The
// presented secret must match; transport-layer callers treat a mismatch
// like an unknown circuit. The proxy reference is replaced, not mutated,
// and the OnConnectionUp handlers run before the reconnect is reported
// successful.
func (r *Registry) Reconnect(ctx context.Context, circuitID, secret string, proxy ClientProxy) (*Host, error) {
	r.mu.RLock()
	reg, ok := r.circuits[circuitID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrCircuitNotFound
	}

	host := reg.host
	if !host.ID().MatchesSecret(secret) {
		// A failed attempt must not refresh the eviction clock.
		return nil, ErrInvalidSecret
	}
	if host.Disposed() {
		return nil, ErrCircuitNotFound
	}

	r.mu.Lock()
	reg.connected = true
	reg.disconnectedAt = time.Time{}
	r.mu.Unlock()

	host.SetClientProxy(proxy)
	if err := host.ConnectionUp(ctx); err != nil {
		return nil, err
	}
	return host, nil
}

// Terminate disposes a circuit and removes it from the registry.
func (r *Registry) Terminate(ctx context.Context, circuitID string) error {
	r.mu.Lock()
	reg, ok := r.circuits[circuitID]
	if ok {
		delete(r.circuits, circuitID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrCircuitNotFound
	}
	reg.host.Dispose(ctx)
	r.totalClosed.Add(1)
	return nil
}

// Close disposes every circuit and stops the eviction loop.
func (r *Registry) Close(ctx context.Context) {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	<-r.cleanupDone

	r.mu.Lock()
	hosts := make([]*Host, 0, len(r.circuits))
	for id, reg := range r.circuits {
		hosts = append(hosts, reg.host)
		delete(r.circuits, id)
	}
	r.mu.Unlock()

	for _, host := range hosts {
		host.Dispose(ctx)
		r.totalClosed.Add(1)
	}
	r.logger.Info("registry closed", "disposed", len(hosts))
}

// Stats returns registry counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	active := len(r.circuits)
	r.mu.RUnlock()
	return RegistryStats{
		Active:      active,
		TotalOpened: r.totalOpened.Load(),
		TotalClosed: r.totalClosed.Load(),
	}
}

// RegistryStats contains registry counters.
type RegistryStats struct {
	Active      int
	TotalOpened uint64
	TotalClosed uint64
}

// cleanupLoop evicts circuits that stayed disconnected past the resume
// window.
func (r *Registry) cleanupLoop() {
	defer close(r.cleanupDone)
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictExpired()
		case <-r.done:
			return
		}
	}
}

// evictExpired disposes circuits disconnected longer than the resume
// window.
func (r *Registry) evictExpired() {
	cutoff := time.Now().Add(-r.config.DisconnectedTimeout)

	r.mu.Lock()
	var expired []*Host
	for id, reg := range r.circuits {
		if !reg.connected && reg.disconnectedAt.Before(cutoff) {
			expired = append(expired, reg.host)
			delete(r.circuits, id)
		}
	}
	r.mu.Unlock()

	for _, host := range expired {
		r.logger.Info("evicting disconnected circuit", "circuit_id", host.ID().ID())
		host.Dispose(context.Background())
		r.totalClosed.Add(1)
	}
}
