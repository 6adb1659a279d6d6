package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Issuer identifies which side of the hub produced an envelope.
type Issuer string

const (
	IssuerBot       Issuer = "BOT"
	IssuerServer    Issuer = "SERVER"
	IssuerDashboard Issuer = "DASHBOARD"
)

// Reserved response kinds. Every inbound envelope is answered with exactly
// one of these, correlated by the request id.
const (
	KindSuccess = "SUCCESS"
	KindError   = "ERROR"
)

// SentinelID is echoed back when the inbound frame was too broken to
// recover the caller-supplied correlation id.
const SentinelID = "-"

// Envelope is the wire-level wrapper for every message crossing the hub.
// Payload bytes stay raw until a handler extracts them via Payload[T].
type Envelope struct {
	Issuer    Issuer          `json:"issuer"`
	Kind      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ID        string          `json:"id"`
	Timestamp Timestamp       `json:"timestamp"`
}

// ErrorPayload is the body of every ERROR response.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewOutbound builds a server-issued envelope around an already-normalized
// payload, with a fresh correlation id and the current instant.
func NewOutbound(kind string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal %s payload: %w", kind, err)
	}
	return &Envelope{
		Issuer:    IssuerServer,
		Kind:      kind,
		Data:      raw,
		ID:        uuid.NewString(),
		Timestamp: Now(),
	}, nil
}

// NewSuccess builds the terminal SUCCESS response for a request id.
func NewSuccess(requestID string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal success payload: %w", err)
	}
	return &Envelope{
		Issuer:    IssuerServer,
		Kind:      KindSuccess,
		Data:      raw,
		ID:        requestID,
		Timestamp: Now(),
	}, nil
}

// NewError builds the terminal ERROR response for a request id. It cannot
// fail: the payload is a plain string wrapper.
func NewError(requestID, message string) *Envelope {
	if requestID == "" {
		requestID = SentinelID
	}
	raw, _ := json.Marshal(ErrorPayload{Message: message})
	return &Envelope{
		Issuer:    IssuerServer,
		Kind:      KindError,
		Data:      raw,
		ID:        requestID,
		Timestamp: Now(),
	}
}

// Timestamp is an instant carried on the wire as ISO-8601 with fixed
// millisecond precision. Both directions use the same layout so a
// round-trip is lossless to the millisecond.
type Timestamp struct {
	time.Time
}

// TimeLayout always emits three fractional digits; parsing additionally
// accepts plain RFC3339 without fraction.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Now returns the current instant truncated to wire precision.
func Now() Timestamp {
	return At(time.Now())
}

// At wraps an arbitrary instant, truncating it to wire precision.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Millisecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(TimeLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("timestamp %q is not ISO-8601: %w", s, err)
	}
	*t = At(parsed)
	return nil
}

// Equal compares two timestamps at wire precision.
func (t Timestamp) Equal(o Timestamp) bool {
	return t.Time.Equal(o.Time)
}
