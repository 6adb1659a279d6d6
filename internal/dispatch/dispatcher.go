package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/relayhub/relay-service/internal/domain/envelope"
	"github.com/relayhub/relay-service/internal/domain/registry"
	"github.com/relayhub/relay-service/internal/metrics"
)

// responseTimeout bounds the terminal-response send; past it the response
// is dropped and logged, never retried.
const responseTimeout = 5 * time.Second

// Dispatcher drives one read loop per connection: decode, look up the
// handler, invoke it, answer with exactly one SUCCESS or ERROR envelope.
// Malformed input is answered and survived; only transport failure ends
// the loop.
type Dispatcher struct {
	hub      registry.Hubber
	handlers *HandlerRegistry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(hub registry.Hubber, handlers *HandlerRegistry, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		handlers: handlers,
		logger:   logger,
		metrics:  m,
	}
}

// Run blocks until the connection closes or fails, then deregisters it.
// Frames from one connection are processed strictly in arrival order;
// separate connections run their own loops and interleave freely.
func (d *Dispatcher) Run(ctx context.Context, conn *registry.Conn) {
	defer func() {
		d.hub.Remove(conn.ID())
		d.metrics.ConnClosed()
	}()
	d.metrics.ConnOpened()

	for {
		frame, err := conn.Read()
		if err != nil {
			// Close frame or transport fatal; either way the session ends.
			d.logger.Info("read loop closing", "conn_id", conn.ID(), "reason", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		d.process(ctx, conn, frame)
	}
}

func (d *Dispatcher) process(ctx context.Context, conn *registry.Conn, frame []byte) {
	env, err := envelope.Decode(frame)
	if err != nil {
		reqID := envelope.SentinelID
		var derr *envelope.DecodeError
		if errors.As(err, &derr) {
			reqID = derr.RequestID
		}
		d.logger.Debug("dropping malformed frame", "conn_id", conn.ID(), "error", err)
		d.respondError(conn, reqID, "malformed envelope: "+err.Error())
		return
	}

	d.metrics.MarkDispatched(env.Kind)

	handler, ok := d.handlers.Get(env.Kind)
	if !ok {
		d.respondError(conn, env.ID, fmt.Sprintf("unknown kind %q", env.Kind))
		return
	}

	data, err := d.invoke(ctx, handler, env, conn)
	if err != nil {
		d.logger.Warn("handler failed",
			"kind", env.Kind, "conn_id", conn.ID(), "request_id", env.ID, "error", err)
		d.respondError(conn, env.ID, err.Error())
		return
	}
	d.respondSuccess(conn, env.ID, data)
}

// invoke shields the loop from handler panics: a single bad message must
// never take the connection, let alone its peers, down with it.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, env *envelope.Envelope, conn *registry.Conn) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered",
				"kind", env.Kind,
				"conn_id", conn.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("internal error handling %s", env.Kind)
		}
	}()
	return h.Handle(ctx, env, conn)
}

func (d *Dispatcher) respondSuccess(conn *registry.Conn, requestID string, data any) {
	resp, err := envelope.NewSuccess(requestID, data)
	if err != nil {
		d.logger.Error("success payload not serializable", "request_id", requestID, "error", err)
		resp = envelope.NewError(requestID, "internal response encoding error")
	}
	d.send(conn, resp)
	d.metrics.MarkResponse(resp.Kind)
}

func (d *Dispatcher) respondError(conn *registry.Conn, requestID, message string) {
	d.send(conn, envelope.NewError(requestID, message))
	d.metrics.MarkResponse(envelope.KindError)
}

func (d *Dispatcher) send(conn *registry.Conn, env *envelope.Envelope) {
	frame, err := envelope.Encode(env)
	if err != nil {
		d.logger.Error("response encode failed", "request_id", env.ID, "error", err)
		return
	}
	// The socket may already be gone; a lost response is logged, not fatal.
	if err := conn.Send(frame, responseTimeout); err != nil {
		d.logger.Warn("response send failed", "conn_id", conn.ID(), "request_id", env.ID, "error", err)
	}
}
