// Package dto holds the inbound wire payload shapes, one per message kind.
// Each handler names its own DTO statically and extracts it through the
// generic envelope codec; nothing here is resolved by reflection at
// runtime.
package dto

// Origin carries the identifiers every payload shares.
type Origin struct {
	ServerID  string `json:"serverId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

type MessageCreateV1 struct {
	Origin
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type MessageUpdateV1 struct {
	Origin
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type MessageDeleteV1 struct {
	Origin
	MessageID string `json:"messageId"`
}

type ReactionV1 struct {
	Origin
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type VoiceStateV1 struct {
	Origin
	State             string `json:"state"`
	PrevChannelID     string `json:"prevChannelId,omitempty"`
	SessionDurationMs int64  `json:"sessionDurationMs,omitempty"`
}

type CommandResultV1 struct {
	Origin
	Command    string `json:"command"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type MetricSampleV1 struct {
	Origin
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

type GuildChangeV1 struct {
	Origin
	Entity   string `json:"entity"`
	EntityID string `json:"entityId"`
	Change   string `json:"change"`
	Name     string `json:"name,omitempty"`
}
