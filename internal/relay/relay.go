package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/relayhub/relay-service/config"
	"github.com/relayhub/relay-service/internal/domain/envelope"
	"github.com/relayhub/relay-service/internal/domain/event"
	"github.com/relayhub/relay-service/internal/domain/registry"
	"github.com/relayhub/relay-service/internal/metrics"
)

// Relayer propagates a freshly persisted event to everyone but its origin.
// Fire-and-forget: delivery failures are logged and counted, never surfaced
// to the calling handler.
type Relayer interface {
	Relay(ctx context.Context, ev *event.Event, originConnID uuid.UUID)
}

// ExternalSink is an out-of-process destination that receives a copy of
// every relayed envelope.
type ExternalSink interface {
	Post(ctx context.Context, body []byte) error
}

// Publisher is the message-bus leg of the relay.
type Publisher interface {
	Publish(ctx context.Context, kind string, body []byte) error
}

// Service fans events out across up to three independent legs: local
// websocket broadcast, an external HTTP sink and an AMQP exchange. Each leg
// is toggled by configuration and fails without affecting the others.
type Service struct {
	hub     registry.Hubber
	cfg     *config.Config
	http    ExternalSink
	amqp    Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewService(hub registry.Hubber, cfg *config.Config, httpSink ExternalSink, amqpSink Publisher, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		hub:     hub,
		cfg:     cfg,
		http:    httpSink,
		amqp:    amqpSink,
		logger:  logger,
		metrics: m,
	}
}

func (s *Service) Relay(ctx context.Context, ev *event.Event, originConnID uuid.UUID) {
	out, err := outboundEnvelope(ev)
	if err != nil {
		s.logger.Error("relay envelope build failed", "kind", ev.Kind, "event_id", ev.ID, "error", err)
		return
	}
	frame, err := envelope.Encode(out)
	if err != nil {
		s.logger.Error("relay envelope encode failed", "kind", ev.Kind, "event_id", ev.ID, "error", err)
		return
	}

	toggles := s.cfg.Toggles()

	if toggles.Fanout {
		results := s.hub.Broadcast(frame, registry.Exclude(originConnID))
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		var fanoutErr error
		if failed > 0 {
			fanoutErr = fmt.Errorf("%d undelivered", failed)
		}
		s.metrics.MarkRelay("fanout", fanoutErr)
		if failed > 0 {
			s.logger.Warn("fan-out partially delivered",
				"kind", ev.Kind, "event_id", ev.ID,
				"targets", len(results), "failed", failed)
		}
	}

	// External legs run detached so a slow endpoint never delays the
	// originating handler's response.
	if toggles.HTTPSink && s.http != nil {
		go s.postHTTP(frame, ev)
	}
	if toggles.AMQPSink && s.amqp != nil {
		go s.publishAMQP(frame, ev)
	}
}

func (s *Service) postHTTP(frame []byte, ev *event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Sink.HTTP.Timeout)
	defer cancel()

	err := s.http.Post(ctx, frame)
	s.metrics.MarkRelay("http", err)
	if err != nil {
		s.logger.Warn("external sink delivery failed", "kind", ev.Kind, "event_id", ev.ID, "error", err)
	}
}

func (s *Service) publishAMQP(frame []byte, ev *event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Sink.AMQP.Timeout)
	defer cancel()

	err := s.amqp.Publish(ctx, string(ev.Kind), frame)
	s.metrics.MarkRelay("amqp", err)
	if err != nil {
		s.logger.Warn("amqp sink delivery failed", "kind", ev.Kind, "event_id", ev.ID, "error", err)
	}
}

// outboundEnvelope wraps the event in a server-issued envelope whose data
// mirrors the inbound payload shape: origin identifiers plus the variant
// fields, flattened into one object, with the assigned event id on top.
func outboundEnvelope(ev *event.Event) (*envelope.Envelope, error) {
	data := map[string]any{
		"eventId":   ev.ID,
		"serverId":  ev.ServerID,
		"channelId": ev.ChannelID,
		"userId":    ev.UserID,
	}

	payload := ev.Payload()
	if payload == nil {
		return nil, fmt.Errorf("event %d has no payload variant", ev.ID)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		data[k] = v
	}

	return envelope.NewOutbound(string(ev.Kind), data)
}
