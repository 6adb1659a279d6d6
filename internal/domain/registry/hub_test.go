package registry

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory duplex pipe standing in for a websocket.
type fakeTransport struct {
	in        chan []byte
	mu        sync.Mutex
	written   [][]byte
	writeErr  error
	closeOnce sync.Once
	closed    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16)}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	frame, ok := <-t.in
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (t *fakeTransport) WriteMessage(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.written = append(t.written, frame)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.in)
	})
	return nil
}

func (t *fakeTransport) frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddAssignsFreshIDs(t *testing.T) {
	hub := NewHub(testLogger())
	defer hub.Shutdown()

	c1 := hub.Add(newFakeTransport(), "bot-1", "BOT")
	c2 := hub.Add(newFakeTransport(), "bot-1", "BOT")

	assert.NotEqual(t, c1.ID(), c2.ID())
	assert.Equal(t, 2, hub.Len())
	assert.Equal(t, "bot-1", c1.ClientID())
	assert.Equal(t, "BOT", c1.ClientType())
	assert.False(t, c1.ConnectedAt().IsZero())
}

func TestRemoveIsIdempotent(t *testing.T) {
	hub := NewHub(testLogger())
	ft := newFakeTransport()
	c := hub.Add(ft, "", "")

	hub.Remove(c.ID())
	assert.Equal(t, 0, hub.Len())
	assert.True(t, ft.isClosed())

	hub.Remove(c.ID())
	hub.Remove(uuid.New())
	assert.Equal(t, 0, hub.Len())
}

func TestSendToDeliversThroughWritePump(t *testing.T) {
	hub := NewHub(testLogger())
	defer hub.Shutdown()
	ft := newFakeTransport()
	c := hub.Add(ft, "", "")

	require.NoError(t, hub.SendTo(c.ID(), []byte("hello")))

	assert.Eventually(t, func() bool {
		frames := ft.frames()
		return len(frames) == 1 && string(frames[0]) == "hello"
	}, time.Second, 5*time.Millisecond)
}

func TestSendToUnknownConnection(t *testing.T) {
	hub := NewHub(testLogger())
	err := hub.SendTo(uuid.New(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendToClosedConnection(t *testing.T) {
	hub := NewHub(testLogger())
	c := hub.Add(newFakeTransport(), "", "")
	c.Close()

	err := hub.SendTo(c.ID(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotOpen)
}

// stuckTransport blocks every write until released, simulating a consumer
// that stops reading.
type stuckTransport struct {
	release chan struct{}
}

func (t *stuckTransport) ReadMessage() ([]byte, error) {
	<-t.release
	return nil, io.EOF
}

func (t *stuckTransport) WriteMessage(frame []byte) error {
	<-t.release
	return nil
}

func (t *stuckTransport) Close() error { return nil }

func TestSendTimesOutOnSaturatedMailbox(t *testing.T) {
	hub := NewHub(testLogger(), WithSendBuffer(1), WithSendTimeout(20*time.Millisecond))
	st := &stuckTransport{release: make(chan struct{})}
	defer close(st.release)

	c := hub.Add(st, "", "")
	defer c.Close()

	// The pump takes one frame and wedges on the write; one more fits the
	// mailbox; the third has nowhere to go within the timeout.
	require.NoError(t, c.Send([]byte("a"), 20*time.Millisecond))
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = c.Send([]byte("b"), 20*time.Millisecond); errors.Is(err, ErrSendTimeout) {
			break
		}
	}
	assert.ErrorIs(t, err, ErrSendTimeout)

	// The drop was counted against the slow consumer.
	assert.GreaterOrEqual(t, c.Dropped(), uint64(1))
}

func TestBroadcastSurvivesBrokenPeer(t *testing.T) {
	hub := NewHub(testLogger())
	defer hub.Shutdown()

	transports := make([]*fakeTransport, 3)
	conns := make([]*Conn, 3)
	for i := range transports {
		transports[i] = newFakeTransport()
		conns[i] = hub.Add(transports[i], "", "")
	}
	// Break the middle peer.
	conns[1].Close()

	results := hub.Broadcast([]byte("event"), nil)
	require.Len(t, results, 3)

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
			assert.Equal(t, conns[1].ID(), r.ConnID)
			assert.ErrorIs(t, r.Err, ErrNotOpen)
		}
	}
	assert.Equal(t, 1, failures, "exactly the broken peer fails")

	for _, i := range []int{0, 2} {
		ft := transports[i]
		assert.Eventually(t, func() bool {
			return len(ft.frames()) == 1
		}, time.Second, 5*time.Millisecond)
	}
}

func TestBroadcastPredicate(t *testing.T) {
	hub := NewHub(testLogger())
	defer hub.Shutdown()

	botFT := newFakeTransport()
	dashFT := newFakeTransport()
	bot := hub.Add(botFT, "b", "BOT")
	hub.Add(dashFT, "d", "DASHBOARD")

	results := hub.Broadcast([]byte("x"), ByClientType("DASHBOARD"))
	require.Len(t, results, 1)
	assert.NotEqual(t, bot.ID(), results[0].ConnID)

	results = hub.Broadcast([]byte("y"), And(ByClientType("BOT"), Exclude(bot.ID())))
	assert.Empty(t, results)
}

func TestListIsASnapshot(t *testing.T) {
	hub := NewHub(testLogger())
	defer hub.Shutdown()

	c := hub.Add(newFakeTransport(), "bot-1", "BOT")
	c.SetMeta("version", "1.2.3")

	snap := hub.List()
	require.Len(t, snap, 1)
	assert.Equal(t, "1.2.3", snap[0].Meta["version"])

	// Mutating after the snapshot must not leak into it.
	c.SetMeta("version", "9.9.9")
	assert.Equal(t, "1.2.3", snap[0].Meta["version"])
}

func TestConcurrentAddRemoveConsistency(t *testing.T) {
	hub := NewHub(testLogger())

	const n = 100
	conns := make([]*Conn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i] = hub.Add(newFakeTransport(), "", "")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, hub.Len())
	assert.Len(t, hub.List(), n)

	for i := 0; i < n/2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Remove(conns[i].ID())
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n/2, hub.Len())
}
