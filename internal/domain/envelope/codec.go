package envelope

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed envelope or payload. It carries the
// best-effort correlation id scraped from the broken frame so the caller
// can still answer the right request.
type DecodeError struct {
	RequestID string
	Reason    string
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a wire frame into an Envelope. Malformed input never
// panics; it yields a *DecodeError with the recoverable request id (or
// SentinelID) so the dispatcher can answer with an ERROR envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{RequestID: scrapeID(raw), Reason: "malformed envelope", Err: err}
	}
	if env.Kind == "" {
		return nil, &DecodeError{RequestID: fallbackID(env.ID), Reason: "empty type"}
	}
	switch env.Issuer {
	case IssuerBot, IssuerServer, IssuerDashboard:
	case "":
		return nil, &DecodeError{RequestID: fallbackID(env.ID), Reason: "empty issuer"}
	default:
		return nil, &DecodeError{RequestID: fallbackID(env.ID), Reason: fmt.Sprintf("unknown issuer %q", env.Issuer)}
	}
	return &env, nil
}

// Encode serializes an envelope into its wire frame.
func Encode(env *Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s: %w", env.Kind, err)
	}
	return raw, nil
}

// Payload extracts the embedded payload into the caller-supplied target
// type. Each handler names its own shape statically; the codec never needs
// a type registry.
func Payload[T any](env *Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, &DecodeError{RequestID: fallbackID(env.ID), Reason: "missing data"}
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, &DecodeError{RequestID: fallbackID(env.ID), Reason: "malformed payload", Err: err}
	}
	return v, nil
}

// scrapeID makes a last attempt to pull the correlation id out of a frame
// that failed full decoding, so the error response still correlates.
func scrapeID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return SentinelID
}

func fallbackID(id string) string {
	if id == "" {
		return SentinelID
	}
	return id
}
