package dispatch

import (
	"context"
	"log/slog"

	"github.com/relayhub/relay-service/internal/domain/envelope"
	"github.com/relayhub/relay-service/internal/domain/registry"
)

// Handler owns one message kind end to end: payload validation, event
// normalization and the storage/relay calls. Handlers are stateless; any
// cross-cutting helpers (clocks, ids) are pure functions.
//
// The returned data becomes the SUCCESS payload; a returned error becomes
// the ERROR payload. The dispatcher owns sending the single terminal
// response, so a handler can never double-respond or forget to respond.
type Handler interface {
	Kind() string
	Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error)
}

// HandlerRegistry maps a kind tag to its handler. It is assembled once at
// startup from an explicit handler list and read-only afterwards, so plain
// map access is safe.
type HandlerRegistry struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewHandlerRegistry(logger *slog.Logger, handlers ...Handler) *HandlerRegistry {
	r := &HandlerRegistry{
		handlers: make(map[string]Handler, len(handlers)),
		logger:   logger,
	}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register binds a handler to its kind. A second registration for the same
// kind replaces the first; that is a deliberate last-registration-wins
// policy and is logged rather than silently ignored.
func (r *HandlerRegistry) Register(h Handler) {
	kind := h.Kind()
	if _, exists := r.handlers[kind]; exists {
		r.logger.Warn("handler replaced", "kind", kind)
	}
	r.handlers[kind] = h
}

func (r *HandlerRegistry) Get(kind string) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

func (r *HandlerRegistry) Has(kind string) bool {
	_, ok := r.handlers[kind]
	return ok
}

// Kinds lists the registered kind tags; the supported-message set stays
// auditable at runtime.
func (r *HandlerRegistry) Kinds() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
