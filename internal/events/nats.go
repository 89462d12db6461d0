package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName    = "LEAGUE_EVENTS"
	SubjectPrefix = "league.events"
)

// jsPublisher is the part of jetstream.JetStream the publisher needs.
type jsPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher publishes events to JetStream subjects
// league.events.{event_type}. Publish only enqueues; Run drains the queue.
type NATSPublisher struct {
	js    jsPublisher
	queue chan Event
}

// NewNATSPublisher creates a publisher with a queue of size buffer.
func NewNATSPublisher(js jsPublisher, buffer int) *NATSPublisher {
	return &NATSPublisher{js: js, queue: make(chan Event, buffer)}
}

// Publish enqueues evt, dropping it if the queue is full.
func (p *NATSPublisher) Publish(_ context.Context, evt Event) {
	select {
	case p.queue <- evt:
	default:
		slog.Warn("event queue full, dropping event", "type", evt.Type, "account", evt.Account)
	}
}

// Run publishes queued events until ctx is done.
func (p *NATSPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-p.queue:
			if err := p.publish(ctx, evt); err != nil {
				// Non-fatal: the ledger remains the source of truth.
				slog.Warn("event publish failed", "type", evt.Type, "account", evt.Account, "error", err)
			}
		}
	}
}

func (p *NATSPublisher) publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.js.Publish(ctx, Subject(evt.Type), data)
	return err
}

// Subject returns the JetStream subject for t.
func Subject(t Type) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, t)
}

// EnsureStream creates or updates the events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	slog.Info("ensured events stream", "stream", StreamName)
	return nil
}
