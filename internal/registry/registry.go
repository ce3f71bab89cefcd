package registry

import (
	"log/slog"
	"sync"

	"e2ee-relay/internal/observability/metrics"

	"github.com/google/uuid"
)

// Conn is the outbound half of a live client connection. Implementations
// must be safe for concurrent Send calls.
type Conn interface {
	Send(payload []byte) error
	Open() bool
}

// Registry is the single source of truth for which connections a user
// currently has open. It supports multiple concurrent connections per user
// (multi-device). A single coarse lock is deliberate: the workload is
// I/O-bound, not registry-bound.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]map[Conn]struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]map[Conn]struct{}),
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Register adds a connection under a user identity. Registering the same
// connection twice is a no-op.
func (r *Registry) Register(userID uuid.UUID, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		r.conns[userID] = set
	}
	if _, dup := set[c]; dup {
		return
	}
	set[c] = struct{}{}
	metrics.ConnectionsActive.WithLabelValues().Inc()
	r.logger.Debug("connection registered", "user_id", userID, "connections", len(set))
}

// Unregister removes a connection. No-op if not present, so every exit path
// of a connection's lifetime may call it unconditionally.
func (r *Registry) Unregister(userID uuid.UUID, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return
	}
	if _, present := set[c]; !present {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, userID)
	}
	metrics.ConnectionsActive.WithLabelValues().Dec()
	r.logger.Debug("connection unregistered", "user_id", userID, "connections", len(set))
}

// SendToUser delivers payload to every open connection of userID. Zero
// connections is a silent no-op: offline recipients recover via history
// fetch. Returns how many connections accepted the payload.
func (r *Registry) SendToUser(userID uuid.UUID, payload []byte) int {
	r.mu.RLock()
	targets := r.snapshot(userID)
	r.mu.RUnlock()

	return r.deliver(targets, payload)
}

// BroadcastAll delivers payload to every open connection across all users.
// Used only for presence announcements.
func (r *Registry) BroadcastAll(payload []byte) int {
	r.mu.RLock()
	var targets []Conn
	for _, set := range r.conns {
		for c := range set {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, payload)
}

func (r *Registry) snapshot(userID uuid.UUID) []Conn {
	set, ok := r.conns[userID]
	if !ok {
		return nil
	}
	targets := make([]Conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	return targets
}

// deliver runs outside the lock so a slow socket cannot stall registration.
// Closed connections are skipped; a failed send never aborts the fan-out.
func (r *Registry) deliver(targets []Conn, payload []byte) int {
	sent := 0
	for _, c := range targets {
		if !c.Open() {
			continue
		}
		if err := c.Send(payload); err != nil {
			r.logger.Debug("send failed, skipping connection", "error", err)
			continue
		}
		sent++
	}
	return sent
}
