package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relayhub/relay-service/internal/domain/envelope"
	"github.com/relayhub/relay-service/internal/domain/event"
	"github.com/relayhub/relay-service/internal/domain/registry"
	"github.com/relayhub/relay-service/internal/service/dto"
	"github.com/relayhub/relay-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) ReadMessage() ([]byte, error)  { return nil, io.EOF }
func (nopTransport) WriteMessage(_ []byte) error   { return nil }
func (nopTransport) Close() error                  { return nil }

// captureRelayer records what the handlers hand to the relay leg.
type captureRelayer struct {
	mu      sync.Mutex
	events  []*event.Event
	origins []uuid.UUID
}

func (r *captureRelayer) Relay(_ context.Context, ev *event.Event, origin uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.origins = append(r.origins, origin)
}

func (r *captureRelayer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store   *storage.MemoryStore
	relayer *captureRelayer
	conn    *registry.Conn
}

func newFixture(t *testing.T) *fixture {
	hub := registry.NewHub(testLogger())
	t.Cleanup(hub.Shutdown)
	return &fixture{
		store:   storage.NewMemoryStore(),
		relayer: &captureRelayer{},
		conn:    hub.Add(nopTransport{}, "bot-1", "BOT"),
	}
}

func env(t *testing.T, kind string, data string) *envelope.Envelope {
	t.Helper()
	return &envelope.Envelope{
		Issuer:    envelope.IssuerBot,
		Kind:      kind,
		ID:        "r1",
		Data:      json.RawMessage(data),
		Timestamp: envelope.At(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

const createData = `{"serverId":"s1","channelId":"c1","userId":"u1","messageId":"m1","content":"hi"}`

func TestMessageCreatePersistsAndRelays(t *testing.T) {
	f := newFixture(t)
	h := NewMessageCreateHandler(f.store, f.relayer, testLogger(), nil)

	got, err := h.Handle(context.Background(), env(t, "MESSAGE_CREATE", createData), f.conn)
	require.NoError(t, err)

	ack, ok := got.(Ack)
	require.True(t, ok)
	assert.Equal(t, int64(1), ack.EventID)

	events := f.store.All()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, event.MessageCreate, ev.Kind)
	assert.Equal(t, "s1", ev.ServerID)
	assert.Equal(t, "c1", ev.ChannelID)
	assert.Equal(t, "u1", ev.UserID)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "m1", ev.Message.MessageID)
	assert.Equal(t, "hi", ev.Message.Content)
	assert.JSONEq(t, createData, string(ev.Raw))

	require.Equal(t, 1, f.relayer.count())
	assert.Equal(t, f.conn.ID(), f.relayer.origins[0])
}

func TestMessageCreateValidation(t *testing.T) {
	f := newFixture(t)
	h := NewMessageCreateHandler(f.store, f.relayer, testLogger(), nil)

	cases := map[string]string{
		"missing messageId": `{"serverId":"s1","channelId":"c1","userId":"u1","content":"hi"}`,
		"missing serverId":  `{"channelId":"c1","userId":"u1","messageId":"m1"}`,
		"missing userId":    `{"serverId":"s1","channelId":"c1","messageId":"m1"}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), env(t, "MESSAGE_CREATE", data), f.conn)
			assert.Error(t, err)
		})
	}
	assert.Equal(t, 0, f.store.Len(), "invalid payloads must not persist")
	assert.Equal(t, 0, f.relayer.count(), "invalid payloads must not relay")
}

func TestMessageUpdateWithoutOriginal(t *testing.T) {
	f := newFixture(t)
	h := NewMessageUpdateHandler(f.store, f.relayer, testLogger(), nil)

	_, err := h.Handle(context.Background(), env(t, "MESSAGE_UPDATE", createData), f.conn)
	require.EqualError(t, err, "original message not found")
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.relayer.count())
}

func TestMessageUpdateLinksPreviousVersion(t *testing.T) {
	f := newFixture(t)
	create := NewMessageCreateHandler(f.store, f.relayer, testLogger(), nil)
	update := NewMessageUpdateHandler(f.store, f.relayer, testLogger(), nil)

	_, err := create.Handle(context.Background(), env(t, "MESSAGE_CREATE", createData), f.conn)
	require.NoError(t, err)

	updateData := `{"serverId":"s1","channelId":"c1","userId":"u1","messageId":"m1","content":"edited"}`
	got, err := update.Handle(context.Background(), env(t, "MESSAGE_UPDATE", updateData), f.conn)
	require.NoError(t, err)
	assert.Equal(t, Ack{EventID: 2}, got)

	events := f.store.All()
	require.Len(t, events, 2)
	assert.Equal(t, event.MessageUpdate, events[1].Kind)
	assert.Equal(t, "edited", events[1].Message.Content)
	assert.Equal(t, int64(1), events[1].Message.PrevEventID, "update links the preceding version")

	// The original row is untouched: history is append-only.
	assert.Equal(t, "hi", events[0].Message.Content)

	latest, err := f.store.FindLatestVersion(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.ID)
}

func TestMessageDeleteChainsVersions(t *testing.T) {
	f := newFixture(t)
	create := NewMessageCreateHandler(f.store, f.relayer, testLogger(), nil)
	update := NewMessageUpdateHandler(f.store, f.relayer, testLogger(), nil)
	del := NewMessageDeleteHandler(f.store, f.relayer, testLogger(), nil)

	_, err := create.Handle(context.Background(), env(t, "MESSAGE_CREATE", createData), f.conn)
	require.NoError(t, err)
	_, err = update.Handle(context.Background(), env(t, "MESSAGE_UPDATE",
		`{"serverId":"s1","channelId":"c1","userId":"u1","messageId":"m1","content":"edited"}`), f.conn)
	require.NoError(t, err)

	_, err = del.Handle(context.Background(), env(t, "MESSAGE_DELETE",
		`{"serverId":"s1","channelId":"c1","userId":"u1","messageId":"m1"}`), f.conn)
	require.NoError(t, err)

	events := f.store.All()
	require.Len(t, events, 3)
	assert.Equal(t, event.MessageDelete, events[2].Kind)
	assert.Equal(t, int64(2), events[2].Message.PrevEventID, "delete links the latest version, not the first")
}

func TestReactionHandlers(t *testing.T) {
	f := newFixture(t)
	add := NewReactionAddHandler(f.store, f.relayer, testLogger(), nil)
	remove := NewReactionRemoveHandler(f.store, f.relayer, testLogger(), nil)

	assert.Equal(t, "REACTION_ADD", add.Kind())
	assert.Equal(t, "REACTION_REMOVE", remove.Kind())

	data := `{"serverId":"s1","channelId":"c1","userId":"u1","messageId":"m1","emoji":"👍"}`
	_, err := add.Handle(context.Background(), env(t, "REACTION_ADD", data), f.conn)
	require.NoError(t, err)
	_, err = remove.Handle(context.Background(), env(t, "REACTION_REMOVE", data), f.conn)
	require.NoError(t, err)

	events := f.store.All()
	require.Len(t, events, 2)
	assert.False(t, events[0].Reaction.Removed)
	assert.True(t, events[1].Reaction.Removed)

	_, err = add.Handle(context.Background(), env(t, "REACTION_ADD",
		`{"serverId":"s1","channelId":"c1","userId":"u1","messageId":"m1"}`), f.conn)
	assert.Error(t, err, "emoji is required")
}

func TestVoiceStateHandler(t *testing.T) {
	f := newFixture(t)
	h := NewVoiceStateHandler(f.store, f.relayer, testLogger(), nil)

	_, err := h.Handle(context.Background(), env(t, "VOICE_STATE",
		`{"serverId":"s1","channelId":"c1","userId":"u1","state":"JOIN"}`), f.conn)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), env(t, "VOICE_STATE",
		`{"serverId":"s1","channelId":"c1","userId":"u1","state":"TELEPORT"}`), f.conn)
	assert.Error(t, err)

	events := f.store.All()
	require.Len(t, events, 1)
	assert.Equal(t, "JOIN", events[0].Voice.State)
}

func TestCommandResultHandler(t *testing.T) {
	f := newFixture(t)
	h := NewCommandResultHandler(f.store, f.relayer, testLogger(), nil)

	_, err := h.Handle(context.Background(), env(t, "COMMAND_RESULT",
		`{"serverId":"s1","channelId":"c1","userId":"u1","command":"!stats","success":true,"durationMs":12}`), f.conn)
	require.NoError(t, err)

	events := f.store.All()
	require.Len(t, events, 1)
	assert.Equal(t, "!stats", events[0].Command.Command)
	assert.True(t, events[0].Command.Success)
}

func TestMetricSampleHandler(t *testing.T) {
	f := newFixture(t)
	h := NewMetricSampleHandler(f.store, f.relayer, testLogger(), nil)

	_, err := h.Handle(context.Background(), env(t, "METRIC_SAMPLE",
		`{"serverId":"s1","channelId":"c1","userId":"u1","name":"member_count","value":42}`), f.conn)
	require.NoError(t, err)

	events := f.store.All()
	require.Len(t, events, 1)
	assert.Equal(t, "member_count", events[0].Metric.Name)
	assert.Equal(t, 42.0, events[0].Metric.Value)
}

func TestGuildChangeHandler(t *testing.T) {
	f := newFixture(t)
	h := NewGuildChangeHandler(f.store, f.relayer, testLogger(), nil)

	_, err := h.Handle(context.Background(), env(t, "GUILD_CHANGE",
		`{"serverId":"s1","channelId":"","userId":"u1","entity":"ROLE","entityId":"role-9","change":"CREATE","name":"mods"}`), f.conn)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), env(t, "GUILD_CHANGE",
		`{"serverId":"s1","userId":"u1","entity":"PLANET","entityId":"x","change":"CREATE"}`), f.conn)
	assert.Error(t, err)

	events := f.store.All()
	require.Len(t, events, 1)
	assert.Equal(t, "ROLE", events[0].Guild.Entity)
}

func TestHandlerRegistryCoversAllKinds(t *testing.T) {
	f := newFixture(t)
	reg := NewHandlerRegistry(f.store, f.relayer, testLogger(), nil)

	for _, kind := range []event.Kind{
		event.MessageCreate, event.MessageUpdate, event.MessageDelete,
		event.ReactionAdd, event.ReactionRemove,
		event.VoiceState, event.CommandResult, event.MetricSample, event.GuildChange,
	} {
		assert.True(t, reg.Has(string(kind)), "missing handler for %s", kind)
	}
	assert.Len(t, reg.Kinds(), 9)
}

func TestNormalizeFallsBackToNow(t *testing.T) {
	e := &envelope.Envelope{Issuer: envelope.IssuerBot, Kind: "MESSAGE_CREATE", ID: "r1"}
	ev := normalize(event.MessageCreate, e, dto.Origin{ServerID: "s1", ChannelID: "c1", UserID: "u1"})
	assert.WithinDuration(t, time.Now(), ev.OccurredAt, time.Second)
}
