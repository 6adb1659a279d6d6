package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPSink posts relayed envelopes to the configured endpoint. A circuit
// breaker sits in front so a dead endpoint degrades to fast-fail instead of
// a per-event timeout; failed deliveries are not retried.
type HTTPSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPSink(url string, timeout time.Duration, logger *slog.Logger) *HTTPSink {
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "external-sink",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("external sink breaker state change",
					"name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (s *HTTPSink) Post(ctx context.Context, body []byte) error {
	_, err := s.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build sink request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("post to sink: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("sink returned %s", resp.Status)
		}
		return nil, nil
	})
	return err
}
