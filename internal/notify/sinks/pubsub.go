package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/dropsignal/fleetpoller/internal/notify"
)

// PubSubSink publishes events to a Google Cloud Pub/Sub topic. Publishes are
// fire-and-forget; the client library batches and retries internally, and
// Close stops the topic, flushing whatever is still pending.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps an existing topic handle.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// eventMessage is the wire form of an event.
type eventMessage struct {
	RunID     string    `json:"run_id"`
	TS        time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Group     string    `json:"group,omitempty"`
	Target    string    `json:"target"`
	UnitID    string    `json:"unit_id,omitempty"`
	Region    string    `json:"region,omitempty"`
	Slots     []string  `json:"slots,omitempty"`
	Available bool      `json:"available"`
	DurMillis int64     `json:"dur_ms,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Consume publishes each event in the batch.
func (s *PubSubSink) Consume(ctx context.Context, batch []notify.Event) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	for _, evt := range batch {
		data, err := json.Marshal(eventMessage{
			RunID:     evt.RunUUID().String(),
			TS:        evt.TS,
			Kind:      string(evt.Kind),
			Group:     string(evt.Group),
			Target:    evt.Target,
			UnitID:    evt.UnitID,
			Region:    evt.Region,
			Slots:     evt.Slots,
			Available: evt.Available,
			DurMillis: evt.Dur.Milliseconds(),
			Note:      evt.Note,
		})
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		s.topic.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{"kind": string(evt.Kind)},
		})
	}
	return nil
}

// Close stops the topic's publish goroutines, flushing pending messages.
func (s *PubSubSink) Close(context.Context) error {
	if s.topic != nil {
		s.topic.Stop()
	}
	return nil
}
