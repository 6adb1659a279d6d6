package registry

import "time"

// Option is a functional configuration knob for the Hub.
type Option func(*Hub)

type hubConfig struct {
	sendBuffer  int
	sendTimeout time.Duration
}

func defaultConfig() hubConfig {
	return hubConfig{
		sendBuffer:  256,
		sendTimeout: 500 * time.Millisecond,
	}
}

// WithSendBuffer sets the per-connection mailbox capacity. The buffer is
// the shock absorber between fan-out and a jittery consumer.
func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.config.sendBuffer = size
		}
	}
}

// WithSendTimeout bounds how long one delivery may wait on a full mailbox
// before the frame is shed for that cycle.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.config.sendTimeout = d
		}
	}
}
