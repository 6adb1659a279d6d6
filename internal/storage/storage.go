package storage

import (
	"context"

	"github.com/relayhub/relay-service/internal/domain/event"
)

// Sink is the persistence collaborator the handlers write through. Save
// assigns and returns the durable event id. FindLatestVersion resolves the
// newest stored event for a message's stable external id; it returns
// (nil, nil) when no version exists. Latest-version resolution lives here
// on purpose, keeping query logic out of the core.
type Sink interface {
	Save(ctx context.Context, ev *event.Event) (int64, error)
	FindLatestVersion(ctx context.Context, externalID string) (*event.Event, error)
}

// externalID extracts the stable external identifier an event should be
// versioned under, empty for kinds that are not versioned.
func externalID(ev *event.Event) string {
	if ev.Message != nil {
		return ev.Message.MessageID
	}
	return ""
}
