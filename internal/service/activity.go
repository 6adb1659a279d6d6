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

// ReactionHandler covers both REACTION_ADD and REACTION_REMOVE; the two
// kinds share a payload and differ only in the removed flag.
type ReactionHandler struct {
	base
	kind    event.Kind
	removed bool
}

func NewReactionAddHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *ReactionHandler {
	return &ReactionHandler{base: base{store, relayer, logger, m}, kind: event.ReactionAdd}
}

func NewReactionRemoveHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *ReactionHandler {
	return &ReactionHandler{base: base{store, relayer, logger, m}, kind: event.ReactionRemove, removed: true}
}

func (h *ReactionHandler) Kind() string { return string(h.kind) }

func (h *ReactionHandler) Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error) {
	p, err := envelope.Payload[dto.ReactionV1](env)
	if err != nil {
		return nil, err
	}
	if err := requireOrigin(p.Origin); err != nil {
		return nil, err
	}
	if p.MessageID == "" {
		return nil, fmt.Errorf("messageId is required")
	}
	if p.Emoji == "" {
		return nil, fmt.Errorf("emoji is required")
	}

	ev := normalize(h.kind, env, p.Origin)
	ev.Reaction = &event.ReactionPayload{
		MessageID: p.MessageID,
		Emoji:     p.Emoji,
		Removed:   h.removed,
	}
	return h.persistAndRelay(ctx, ev, conn)
}

// VoiceStateHandler records voice-channel activity transitions.
type VoiceStateHandler struct {
	base
}

var voiceStates = map[string]struct{}{
	"JOIN": {}, "LEAVE": {}, "MOVE": {}, "MUTE": {}, "UNMUTE": {},
}

func NewVoiceStateHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *VoiceStateHandler {
	return &VoiceStateHandler{base{store, relayer, logger, m}}
}

func (h *VoiceStateHandler) Kind() string { return string(event.VoiceState) }

func (h *VoiceStateHandler) Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error) {
	p, err := envelope.Payload[dto.VoiceStateV1](env)
	if err != nil {
		return nil, err
	}
	if err := requireOrigin(p.Origin); err != nil {
		return nil, err
	}
	if _, ok := voiceStates[p.State]; !ok {
		return nil, fmt.Errorf("unknown voice state %q", p.State)
	}

	ev := normalize(event.VoiceState, env, p.Origin)
	ev.Voice = &event.VoicePayload{
		State:           p.State,
		PrevChannelID:   p.PrevChannelID,
		SessionDuration: p.SessionDurationMs,
	}
	return h.persistAndRelay(ctx, ev, conn)
}

// CommandResultHandler records the outcome of a bot command invocation.
type CommandResultHandler struct {
	base
}

func NewCommandResultHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *CommandResultHandler {
	return &CommandResultHandler{base{store, relayer, logger, m}}
}

func (h *CommandResultHandler) Kind() string { return string(event.CommandResult) }

func (h *CommandResultHandler) Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error) {
	p, err := envelope.Payload[dto.CommandResultV1](env)
	if err != nil {
		return nil, err
	}
	if err := requireOrigin(p.Origin); err != nil {
		return nil, err
	}
	if p.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	ev := normalize(event.CommandResult, env, p.Origin)
	ev.Command = &event.CommandPayload{
		Command:    p.Command,
		Success:    p.Success,
		Output:     p.Output,
		DurationMs: p.DurationMs,
	}
	return h.persistAndRelay(ctx, ev, conn)
}

// MetricSampleHandler records one numeric sample.
type MetricSampleHandler struct {
	base
}

func NewMetricSampleHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *MetricSampleHandler {
	return &MetricSampleHandler{base{store, relayer, logger, m}}
}

func (h *MetricSampleHandler) Kind() string { return string(event.MetricSample) }

func (h *MetricSampleHandler) Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error) {
	p, err := envelope.Payload[dto.MetricSampleV1](env)
	if err != nil {
		return nil, err
	}
	if err := requireOrigin(p.Origin); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, fmt.Errorf("metric name is required")
	}

	ev := normalize(event.MetricSample, env, p.Origin)
	ev.Metric = &event.MetricPayload{
		Name:  p.Name,
		Value: p.Value,
		Unit:  p.Unit,
	}
	return h.persistAndRelay(ctx, ev, conn)
}

// GuildChangeHandler records guild, channel and role mutations.
type GuildChangeHandler struct {
	base
}

var (
	guildEntities = map[string]struct{}{"GUILD": {}, "CHANNEL": {}, "ROLE": {}}
	guildChanges  = map[string]struct{}{"CREATE": {}, "UPDATE": {}, "DELETE": {}}
)

func NewGuildChangeHandler(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *GuildChangeHandler {
	return &GuildChangeHandler{base{store, relayer, logger, m}}
}

func (h *GuildChangeHandler) Kind() string { return string(event.GuildChange) }

func (h *GuildChangeHandler) Handle(ctx context.Context, env *envelope.Envelope, conn *registry.Conn) (any, error) {
	p, err := envelope.Payload[dto.GuildChangeV1](env)
	if err != nil {
		return nil, err
	}
	if err := requireOrigin(p.Origin); err != nil {
		return nil, err
	}
	if _, ok := guildEntities[p.Entity]; !ok {
		return nil, fmt.Errorf("unknown entity %q", p.Entity)
	}
	if _, ok := guildChanges[p.Change]; !ok {
		return nil, fmt.Errorf("unknown change %q", p.Change)
	}
	if p.EntityID == "" {
		return nil, fmt.Errorf("entityId is required")
	}

	ev := normalize(event.GuildChange, env, p.Origin)
	ev.Guild = &event.GuildPayload{
		Entity:   p.Entity,
		EntityID: p.EntityID,
		Change:   p.Change,
		Name:     p.Name,
	}
	return h.persistAndRelay(ctx, ev, conn)
}
