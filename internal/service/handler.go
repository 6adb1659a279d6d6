// Package service implements the per-kind message handlers. Every handler
// follows the same path: extract its payload, validate, normalize into an
// event, persist through the storage collaborator, hand the stored event to
// the relayer and return the acknowledgment data for the SUCCESS envelope.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayhub/relay-service/internal/domain/envelope"
	"github.com/relayhub/relay-service/internal/domain/event"
	"github.com/relayhub/relay-service/internal/domain/registry"
	"github.com/relayhub/relay-service/internal/metrics"
	"github.com/relayhub/relay-service/internal/relay"
	"github.com/relayhub/relay-service/internal/service/dto"
	"github.com/relayhub/relay-service/internal/storage"
)

// Ack is the SUCCESS payload every handler returns: the durable id the
// storage collaborator assigned.
type Ack struct {
	EventID int64 `json:"eventId"`
}

// base carries the collaborators shared by every handler. Handlers hold no
// other state and never share mutable data with each other.
type base struct {
	store   storage.Sink
	relayer relay.Relayer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// persistAndRelay is the common tail of every handler: storage assigns the
// id, then the event fans out. Relay failures stay inside the relayer; only
// the storage call can fail the handler.
func (b *base) persistAndRelay(ctx context.Context, ev *event.Event, conn *registry.Conn) (Ack, error) {
	id, err := b.store.Save(ctx, ev)
	if err != nil {
		b.logger.Error("event persist failed", "kind", ev.Kind, "error", err)
		return Ack{}, fmt.Errorf("failed to persist %s event", ev.Kind)
	}
	b.metrics.MarkStored(string(ev.Kind))

	b.relayer.Relay(ctx, ev, conn.ID())
	return Ack{EventID: id}, nil
}

// normalize stamps the base fields common to every event kind. occurredAt
// falls back to now when the envelope carried a zero timestamp.
func normalize(kind event.Kind, env *envelope.Envelope, origin dto.Origin) *event.Event {
	occurred := env.Timestamp.Time
	if occurred.IsZero() {
		occurred = time.Now().UTC().Truncate(time.Millisecond)
	}
	return &event.Event{
		Kind:       kind,
		OccurredAt: occurred,
		ServerID:   origin.ServerID,
		ChannelID:  origin.ChannelID,
		UserID:     origin.UserID,
		Raw:        env.Data,
	}
}

func requireOrigin(o dto.Origin) error {
	if o.ServerID == "" {
		return fmt.Errorf("serverId is required")
	}
	if o.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}
