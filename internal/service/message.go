package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relayhub/relay-service/internal/domain/envelope"
	"github.com/relayhub/relay-service/internal/domain/event"
	"github.com/relayhub/relay-service/internal/domain/registry"
	"github.com/relayhub/relay-service/internal/metrics"
	"github.com/relayhub/relay-service/internal/relay"
	"github.com/relayhub/relay-service/internal/service/dto"
	"github.com/relayhub/relay-service/internal/storage"
)

// MessageCreateHandler persists the first version of a chat message.
type MessageCreateHandler struct {
	base
}

func NewMessageCreateHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *MessageCreateHandler {
	return &MessageCreateHandler{base{store, relayer, logger, m}}
}

func (h *MessageCreateHandler) Kind() string { return string(event.MessageCreate) }

func (h *MessageCreateHandler) Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error) {
	p, err := envelope.Payload[dto.MessageCreateV1](env)
	if err != nil {
		return nil, err
	}
	if err := requireOrigin(p.Origin); err != nil {
		return nil, err
	}
	if p.MessageID == "" {
		return nil, fmt.Errorf("messageId is required")
	}

	ev := normalize(event.MessageCreate, env, p.Origin)
	ev.Message = &event.MessagePayload{
		MessageID: p.MessageID,
		Content:   p.Content,
	}
	return h.persistAndRelay(ctx, ev, conn)
}

// MessageUpdateHandler records an edit as a new version linked to the
// previous one. The original is never touched; history stays append-only.
type MessageUpdateHandler struct {
	base
}

func NewMessageUpdateHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *MessageUpdateHandler {
	return &MessageUpdateHandler{base{store, relayer, logger, m}}
}

func (h *MessageUpdateHandler) Kind() string { return string(event.MessageUpdate) }

func (h *MessageUpdateHandler) Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error) {
	p, err := envelope.Payload[dto.MessageUpdateV1](env)
	if err != nil {
		return nil, err
	}
	if err := requireOrigin(p.Origin); err != nil {
		return nil, err
	}
	if p.MessageID == "" {
		return nil, fmt.Errorf("messageId is required")
	}

	prev, err := h.store.FindLatestVersion(ctx, p.MessageID)
	if err != nil {
		h.logger.Error("latest version lookup failed", "message_id", p.MessageID, "error", err)
		return nil, fmt.Errorf("failed to resolve message %s", p.MessageID)
	}
	if prev == nil {
		return nil, fmt.Errorf("original message not found")
	}

	ev := normalize(event.MessageUpdate, env, p.Origin)
	ev.Message = &event.MessagePayload{
		MessageID:   p.MessageID,
		Content:     p.Content,
		PrevEventID: prev.ID,
	}
	return h.persistAndRelay(ctx, ev, conn)
}

// MessageDeleteHandler records a deletion the same append-only way: a new
// tombstone version pointing at the last stored one.
type MessageDeleteHandler struct {
	base
}

func NewMessageDeleteHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *MessageDeleteHandler {
	return &MessageDeleteHandler{base{store, relayer, logger, m}}
}

func (h *MessageDeleteHandler) Kind() string { return string(event.MessageDelete) }

func (h *MessageDeleteHandler) Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error) {
	p, err := envelope.Payload[dto.MessageDeleteV1](env)
	if err != nil {
		return nil, err
	}
	if err := requireOrigin(p.Origin); err != nil {
		return nil, err
	}
	if p.MessageID == "" {
		return nil, fmt.Errorf("messageId is required")
	}

	prev, err := h.store.FindLatestVersion(ctx, p.MessageID)
	if err != nil {
		h.logger.Error("latest version lookup failed", "message_id", p.MessageID, "error", err)
		return nil, fmt.Errorf("failed to resolve message %s", p.MessageID)
	}
	if prev == nil {
		return nil, fmt.Errorf("original message not found")
	}

	ev := normalize(event.MessageDelete, env, p.Origin)
	ev.Message = &event.MessagePayload{
		MessageID:   p.MessageID,
		PrevEventID: prev.ID,
	}
	return h.persistAndRelay(ctx, ev, conn)
}
