package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("registry: connection not found")
	ErrNotOpen  = errors.New("registry: connection not open")
	// ErrSendTimeout means the outbound mailbox stayed full for the whole
	// delivery window; the frame is dropped for this cycle only.
	ErrSendTimeout = errors.New("registry: send buffer full")
)

// Transport is the duplex frame pipe underneath a connection. The registry
// entry is its sole owner for the connection's lifetime; handlers never see
// it directly. The websocket adapter lives in the transport handler, fakes
// live in tests.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

// Conn is one live session plus its registry metadata. All outbound frames
// go through the mailbox and a single write pump, so transport writes are
// never issued from two goroutines and no lock is held across network I/O.
type Conn struct {
	id          uuid.UUID
	clientID    string
	clientType  string
	connectedAt time.Time

	transport Transport
	mailbox   chan []byte

	ctx      context.Context
	cancelFn context.CancelFunc

	closeOnce sync.Once

	mu   sync.RWMutex
	meta map[string]string

	dropped atomic.Uint64

	logger *slog.Logger
}

func newConn(t Transport, clientID, clientType string, bufferSize int, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:          uuid.New(),
		clientID:    clientID,
		clientType:  clientType,
		connectedAt: time.Now(),
		transport:   t,
		mailbox:     make(chan []byte, bufferSize),
		ctx:         ctx,
		cancelFn:    cancel,
		meta:        make(map[string]string),
		logger:      logger,
	}
	go c.writePump()
	return c
}

func (c *Conn) ID() uuid.UUID          { return c.id }
func (c *Conn) ClientID() string       { return c.clientID }
func (c *Conn) ClientType() string     { return c.clientType }
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// SetMeta adds or replaces one metadata entry. Metadata only ever grows;
// there is no delete on purpose.
func (c *Conn) SetMeta(key, value string) {
	c.mu.Lock()
	c.meta[key] = value
	c.mu.Unlock()
}

// Read blocks until the next inbound frame. Only the dispatcher loop calls
// this, one goroutine per connection.
func (c *Conn) Read() ([]byte, error) {
	return c.transport.ReadMessage()
}

// Send enqueues a frame for the write pump, waiting at most timeout for
// mailbox space. A saturated mailbox means a persistently slow consumer;
// the frame is dropped and the drop counted.
func (c *Conn) Send(frame []byte, timeout time.Duration) error {
	select {
	case <-c.ctx.Done():
		return ErrNotOpen
	case c.mailbox <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return ErrNotOpen
	case c.mailbox <- frame:
		return nil
	case <-timer.C:
		c.dropped.Add(1)
		return ErrSendTimeout
	}
}

// Dropped reports how many frames this connection has shed under
// backpressure.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

func (c *Conn) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.mailbox:
			if err := c.transport.WriteMessage(frame); err != nil {
				c.logger.Warn("transport write failed, closing connection",
					"conn_id", c.id, "error", err)
				c.cancelFn()
				return
			}
		}
	}
}

// Close tears the session down exactly once: cancels pending sends, stops
// the pump and closes the transport. Safe to call from the hub, the
// dispatcher and deferred handlers concurrently.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport close", "conn_id", c.id, "error", err)
		}
	})
}

func (c *Conn) snapshot() Snapshot {
	c.mu.RLock()
	meta := make(map[string]string, len(c.meta))
	for k, v := range c.meta {
		meta[k] = v
	}
	c.mu.RUnlock()

	return Snapshot{
		ID:          c.id,
		ClientID:    c.clientID,
		ClientType:  c.clientType,
		ConnectedAt: c.connectedAt,
		Meta:        meta,
	}
}
