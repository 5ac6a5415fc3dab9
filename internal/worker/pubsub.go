package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/dispatchwatch/dispatchwatch/internal/occupancy"
)

// PubSubPublisher publishes occupancy changes to a Pub/Sub topic.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicName string
	logger    zerolog.Logger

	// pending tracks result waiters so Close returns after every outcome is logged.
	pending sync.WaitGroup
}

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	TopicName string
	Logger    zerolog.Logger
}

// OccupancyMessage is the payload of one occupancy change.
type OccupancyMessage struct {
	Server  string    `json:"server"`
	Station string    `json:"station"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to"`
	Bot     bool      `json:"bot"`
	At      time.Time `json:"at"`
}

// NewOccupancyMessage builds the payload for a change observed on serverCode.
func NewOccupancyMessage(serverCode string, change occupancy.Change) OccupancyMessage {
	return OccupancyMessage{
		Server:  serverCode,
		Station: change.Prefix,
		From:    change.Previous,
		To:      change.Event.Occupant,
		Bot:     change.Event.IsBot(),
		At:      change.Event.At.UTC(),
	}
}

// OrderingKey keeps the changes of one station in publish order.
func (m OccupancyMessage) OrderingKey() string {
	return m.Server + "/" + m.Station
}

// Encode converts the payload into a Pub/Sub message.
func (m OccupancyMessage) Encode() (*pubsub.Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding occupancy message: %w", err)
	}

	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"server":  m.Server,
			"station": m.Station,
		},
		OrderingKey: m.OrderingKey(),
	}, nil
}

// NewPubSubPublisher creates a new Pub/Sub publisher.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(cfg.TopicName)
	publisher.EnableMessageOrdering = true

	return &PubSubPublisher{
		client:    client,
		publisher: publisher,
		topicName: cfg.TopicName,
		logger:    cfg.Logger,
	}, nil
}

// PublishChanges publishes every change asynchronously. Failures are logged
// and never reported back to the poller. Cancelling ctx does not abandon
// messages already handed over: Close flushes them.
func (p *PubSubPublisher) PublishChanges(ctx context.Context, serverCode string, changes []occupancy.Change) {
	ctx = context.WithoutCancel(ctx)

	for _, change := range changes {
		msg := NewOccupancyMessage(serverCode, change)

		encoded, err := msg.Encode()
		if err != nil {
			p.logger.Error().Err(err).Str("station", msg.Station).Msg("failed to encode occupancy message")
			continue
		}

		result := p.publisher.Publish(ctx, encoded)

		p.pending.Add(1)
		go func(key string) {
			defer p.pending.Done()

			id, err := result.Get(ctx)
			if err != nil {
				p.logger.Warn().
					Err(err).
					Str("topic", p.topicName).
					Str("ordering_key", key).
					Msg("failed to publish occupancy change")
				// A failed ordered publish pauses the key until resumed.
				p.publisher.ResumePublish(key)
				return
			}

			p.logger.Debug().
				Str("message_id", id).
				Str("ordering_key", key).
				Msg("published occupancy change")
		}(msg.OrderingKey())
	}
}

// Close flushes pending messages, waits for their outcomes and closes the
// Pub/Sub client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	p.pending.Wait()
	return p.client.Close()
}
