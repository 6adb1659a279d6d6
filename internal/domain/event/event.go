package event

import (
	"encoding/json"
	"time"
)

// Kind tags a normalized event with the handler family that produced it.
// The tag doubles as the wire `type` of the inbound envelope.
type Kind string

const (
	MessageCreate  Kind = "MESSAGE_CREATE"
	MessageUpdate  Kind = "MESSAGE_UPDATE"
	MessageDelete  Kind = "MESSAGE_DELETE"
	ReactionAdd    Kind = "REACTION_ADD"
	ReactionRemove Kind = "REACTION_REMOVE"
	VoiceState     Kind = "VOICE_STATE"
	CommandResult  Kind = "COMMAND_RESULT"
	MetricSample   Kind = "METRIC_SAMPLE"
	GuildChange    Kind = "GUILD_CHANGE"
)

// Event is the persisted, kind-tagged domain record. It is a tagged union:
// Kind selects which variant payload pointer is populated, and exactly one
// of them is non-nil for a well-formed event.
type Event struct {
	// ID is the durable identifier. Zero until storage assigns it on Save.
	ID int64

	Kind       Kind
	OccurredAt time.Time

	// Origin identifiers shared by every kind.
	ServerID  string
	ChannelID string
	UserID    string

	// Raw is the inbound payload snapshot, kept verbatim for audit.
	Raw json.RawMessage

	CreatedAt time.Time

	Message  *MessagePayload
	Reaction *ReactionPayload
	Voice    *VoicePayload
	Command  *CommandPayload
	Metric   *MetricPayload
	Guild    *GuildPayload
}

// Payload returns the populated variant, or nil for a malformed event.
// Storage and relay code switch on Kind and use this for serialization.
func (e *Event) Payload() any {
	switch {
	case e.Message != nil:
		return e.Message
	case e.Reaction != nil:
		return e.Reaction
	case e.Voice != nil:
		return e.Voice
	case e.Command != nil:
		return e.Command
	case e.Metric != nil:
		return e.Metric
	case e.Guild != nil:
		return e.Guild
	}
	return nil
}

// MessagePayload covers create, update and delete of a chat message.
// Updates and deletes are stored as new events: MessageID keeps the stable
// external id of the original message and PrevEventID, when known, points
// at the immediately preceding stored version so the full history stays
// reconstructable.
type MessagePayload struct {
	MessageID   string `json:"messageId"`
	Content     string `json:"content,omitempty"`
	PrevEventID int64  `json:"prevEventId,omitempty"`
}

type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Removed   bool   `json:"removed,omitempty"`
}

// VoicePayload records a voice-channel activity transition.
type VoicePayload struct {
	State           string `json:"state"` // JOIN, LEAVE, MOVE, MUTE, UNMUTE
	PrevChannelID   string `json:"prevChannelId,omitempty"`
	SessionDuration int64  `json:"sessionDurationMs,omitempty"`
}

// CommandPayload records the outcome of a bot command invocation.
type CommandPayload struct {
	Command    string `json:"command"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// MetricPayload is a single numeric sample (member count, latency, ...).
type MetricPayload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// GuildPayload records a guild, channel or role mutation; Entity sub-tags
// the mutated object since the wire kind is shared.
type GuildPayload struct {
	Entity   string `json:"entity"` // GUILD, CHANNEL, ROLE
	EntityID string `json:"entityId"`
	Change   string `json:"change"` // CREATE, UPDATE, DELETE
	Name     string `json:"name,omitempty"`
}
