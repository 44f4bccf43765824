package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// Event kinds, carried in the "event_kind" header.
const (
	KindAlert   = "alert"
	KindHotspot = "hotspot"
)

// batchTimeout caps how long a synchronous publish waits for more messages
// before flushing. Alerts are published from the ingest request path.
const batchTimeout = 10 * time.Millisecond

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces alert and hotspot events to a Kafka topic.
// It implements alert.Publisher and hotspot.Publisher.
type Publisher struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Kafka producer for the given topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger, metrics: metrics}
}

// PublishAlert writes a fired alert, keyed by its dedup key so escalations of
// one subject land on the same partition.
func (p *Publisher) PublishAlert(ctx context.Context, a domain.Alert) error {
	msg, err := alertMessage(a)
	if err != nil {
		return err
	}
	return p.write(ctx, KindAlert, msg)
}

// PublishHotspot writes a hotspot lifecycle transition, keyed by location.
func (p *Publisher) PublishHotspot(ctx context.Context, change domain.HotspotChange) error {
	msg, err := hotspotMessage(change)
	if err != nil {
		return err
	}
	return p.write(ctx, KindHotspot, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) write(ctx context.Context, kind string, msg kafkago.Message) error {
	err := p.writer.WriteMessages(ctx, msg)
	outcome := "success"
	if err != nil {
		outcome = "error"
		p.logger.Error("kafka publish failed", "kind", kind, "key", string(msg.Key), "error", err)
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(kind, outcome).Inc()
	}
	if err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	return nil
}

func alertMessage(a domain.Alert) (kafkago.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(a.DedupKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_kind", Value: []byte(KindAlert)},
			{Key: "severity", Value: []byte(a.Severity)},
			{Key: "created_at", Value: []byte(a.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}

func hotspotMessage(change domain.HotspotChange) (kafkago.Message, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize hotspot change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(change.Hotspot.LocationKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_kind", Value: []byte(KindHotspot)},
			{Key: "transition", Value: []byte(change.Transition)},
			{Key: "created_at", Value: []byte(change.At.Format(time.RFC3339))},
		},
	}, nil
}
