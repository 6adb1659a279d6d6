package relay

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

// AMQPSink publishes relayed envelopes to one durable topic exchange with
// routing key `relay.<kind>`, so bus consumers can bind to the kinds they
// care about.
type AMQPSink struct {
	publisher message.Publisher
}

func NewAMQPSink(url, exchange string, wmLogger watermill.LoggerAdapter) (*AMQPSink, error) {
	cfg := amqp.NewDurablePubSubConfig(url, nil)
	cfg.Exchange.GenerateName = func(string) string { return exchange }
	cfg.Exchange.Type = "topic"
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	publisher, err := amqp.NewPublisher(cfg, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("relay: amqp publisher: %w", err)
	}
	return &AMQPSink{publisher: publisher}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, kind string, body []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	return s.publisher.Publish("relay."+kind, msg)
}

func (s *AMQPSink) Close() error {
	return s.publisher.Close()
}
