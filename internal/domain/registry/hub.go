package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hubber is the connection registry seen by the dispatcher, the relayer and
// the diagnostics surface.
type Hubber interface {
	Add(t Transport, clientID, clientType string) *Conn
	Remove(connID uuid.UUID)
	SendTo(connID uuid.UUID, frame []byte) error
	Broadcast(frame []byte, pred Predicate) []SendResult
	List() []Snapshot
	Len() int
	Shutdown()
}

// Snapshot is a point-in-time, read-only view of one connection. The hub
// may mutate after the snapshot is taken; callers must not assume it stays
// current.
type Snapshot struct {
	ID          uuid.UUID         `json:"connectionId"`
	ClientID    string            `json:"clientId,omitempty"`
	ClientType  string            `json:"clientType,omitempty"`
	ConnectedAt time.Time         `json:"connectedAt"`
	Meta        map[string]string `json:"metadata,omitempty"`
}

// Predicate filters broadcast targets. Nil means every connection.
type Predicate func(Snapshot) bool

// ByClientType matches connections whose declared category equals t.
func ByClientType(t string) Predicate {
	return func(s Snapshot) bool { return s.ClientType == t }
}

// Exclude matches everything except the given connection, typically the
// broadcast origin.
func Exclude(connID uuid.UUID) Predicate {
	return func(s Snapshot) bool { return s.ID != connID }
}

// And combines predicates; all must match.
func And(preds ...Predicate) Predicate {
	return func(s Snapshot) bool {
		for _, p := range preds {
			if p != nil && !p(s) {
				return false
			}
		}
		return true
	}
}

// SendResult is the per-connection outcome of one broadcast cycle.
type SendResult struct {
	ConnID uuid.UUID
	Err    error
}

// Hub owns every live connection, keyed by connection id. It is the single
// piece of shared mutable state in the system: lookups ride on sync.Map,
// and delivery never holds a map-wide lock across transport I/O.
type Hub struct {
	conns  sync.Map // uuid.UUID -> *Conn
	size   int64
	mu     sync.Mutex // guards size only
	config hubConfig
	logger *slog.Logger
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		config: defaultConfig(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add registers a fresh connection around the transport and starts its
// write pump. The hub takes sole ownership of the transport handle.
func (h *Hub) Add(t Transport, clientID, clientType string) *Conn {
	c := newConn(t, clientID, clientType, h.config.sendBuffer, h.logger)
	h.conns.Store(c.id, c)
	h.mu.Lock()
	h.size++
	h.mu.Unlock()

	h.logger.Info("connection registered",
		"conn_id", c.id, "client_id", clientID, "client_type", clientType)
	return c
}

// Remove deregisters and closes a connection. Removing an unknown id is a
// no-op.
func (h *Hub) Remove(connID uuid.UUID) {
	val, ok := h.conns.LoadAndDelete(connID)
	if !ok {
		return
	}
	h.mu.Lock()
	h.size--
	h.mu.Unlock()

	if c, ok := val.(*Conn); ok {
		c.Close()
		h.logger.Info("connection removed", "conn_id", connID, "dropped_frames", c.Dropped())
	}
}

// SendTo delivers one frame to one connection, bounded by the configured
// send timeout.
func (h *Hub) SendTo(connID uuid.UUID, frame []byte) error {
	val, ok := h.conns.Load(connID)
	if !ok {
		return ErrNotFound
	}
	c := val.(*Conn)
	return c.Send(frame, h.config.sendTimeout)
}

// Broadcast delivers one frame to every connection matching pred. Each
// delivery is attempted independently and concurrently: a dead or slow
// peer costs at most the per-send timeout and never blocks the others.
func (h *Hub) Broadcast(frame []byte, pred Predicate) []SendResult {
	targets := make([]*Conn, 0, 16)
	h.conns.Range(func(_, val any) bool {
		c := val.(*Conn)
		if pred == nil || pred(c.snapshot()) {
			targets = append(targets, c)
		}
		return true
	})

	results := make([]SendResult, len(targets))
	var wg sync.WaitGroup
	for i, c := range targets {
		wg.Add(1)
		go func(i int, c *Conn) {
			defer wg.Done()
			err := c.Send(frame, h.config.sendTimeout)
			results[i] = SendResult{ConnID: c.id, Err: err}
			if err != nil {
				h.logger.Warn("broadcast delivery failed", "conn_id", c.id, "error", err)
			}
		}(i, c)
	}
	wg.Wait()
	return results
}

// List returns a point-in-time snapshot of every connection.
func (h *Hub) List() []Snapshot {
	out := make([]Snapshot, 0, 16)
	h.conns.Range(func(_, val any) bool {
		out = append(out, val.(*Conn).snapshot())
		return true
	})
	return out
}

// Len is the current connection count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.size)
}

// Shutdown closes every remaining connection. Called from the fx stop hook.
func (h *Hub) Shutdown() {
	h.conns.Range(func(key, val any) bool {
		h.Remove(key.(uuid.UUID))
		return true
	})
}
