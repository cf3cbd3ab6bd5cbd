// Package goposthog delivers telemetry events to PostHog.
package goposthog

import (
	"context"
	"time"

	"github.com/posthog/posthog-go"

	"github.com/gosom/courier-routes/tlmt"
)

type service struct {
	client posthog.Client
}

// New returns a PostHog backed Telemetry. Events are batched by the client
// and flushed on Close.
func New(publicAPIKey, endpointURL string) (tlmt.Telemetry, error) {
	client, err := posthog.NewWithConfig(publicAPIKey, posthog.Config{
		Endpoint:  endpointURL,
		Interval:  10 * time.Second,
		BatchSize: 20,
	})
	if err != nil {
		return nil, err
	}

	return &service{client: client}, nil
}

func (s *service) Send(ctx context.Context, event tlmt.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	capture := posthog.Capture{
		DistinctId: event.AnonymousID,
		Event:      event.Name,
		Properties: event.Properties,
	}

	if err := capture.Validate(); err != nil {
		return err
	}

	return s.client.Enqueue(capture)
}

func (s *service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}

	return nil
}
