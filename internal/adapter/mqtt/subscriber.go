// Package mqtt feeds device telemetry published over MQTT into the pipeline.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
)

// SourceMQTT labels samples ingested through this adapter.
const SourceMQTT = "mqtt"

const connectTimeout = 15 * time.Second

// Ingester is the pipeline entry point the subscriber feeds.
type Ingester interface {
	Ingest(ctx context.Context, raw domain.RawSample, source string) (pipeline.IngestResult, error)
}

// Subscriber consumes telemetry from a topic filter and ingests every message.
// It implements observability.ReadinessChecker.
type Subscriber struct {
	brokerURL string
	topic     string
	clientID  string
	ingester  Ingester
	logger    *slog.Logger

	client    paho.Client
	ctx       context.Context
	connected atomic.Bool
}

// NewSubscriber creates a subscriber. Nothing connects until Start.
func NewSubscriber(brokerURL, topic, clientID string, ingester Ingester, logger *slog.Logger) *Subscriber {
	if strings.TrimSpace(clientID) == "" {
		clientID = "airq-etl-" + time.Now().UTC().Format("150405.000")
	}
	return &Subscriber{
		brokerURL: normalizeBrokerURL(brokerURL),
		topic:     topic,
		clientID:  clientID,
		ingester:  ingester,
		logger:    logger,
	}
}

// Start connects to the broker and subscribes. The subscription is renewed on
// every reconnect. Messages are ingested with ctx until Close.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ctx

	opts := paho.NewClientOptions()
	opts.AddBroker(s.brokerURL)
	opts.SetClientID(s.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOrderMatters(false)
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.connected.Store(false)
		s.logger.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(c paho.Client) {
		tok := c.Subscribe(s.topic, 1, s.onMessage)
		tok.Wait()
		if err := tok.Error(); err != nil {
			s.logger.Error("mqtt subscribe failed", "topic", s.topic, "error", err)
			return
		}
		s.connected.Store(true)
		s.logger.Info("mqtt subscribed", "broker", s.brokerURL, "topic", s.topic)
	}

	s.client = paho.NewClient(opts)
	tok := s.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timed out after %s", s.brokerURL, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.brokerURL, err)
	}
	return nil
}

// CheckReadiness reports whether the subscription is live.
func (s *Subscriber) CheckReadiness(_ context.Context) error {
	if !s.connected.Load() {
		return errors.New("mqtt not subscribed")
	}
	return nil
}

// Close disconnects, allowing in-flight handlers a second to finish.
func (s *Subscriber) Close() {
	if s.client == nil {
		return
	}
	s.connected.Store(false)
	s.client.Disconnect(1000)
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.handle(ctx, msg.Topic(), msg.Payload())
}

// handle ingests one payload. Malformed messages are logged and dropped since
// MQTT offers no way to reject them back to the device.
func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) {
	raw, err := domain.DecodeTelemetry(payload, deviceFromTopic(topic))
	if err != nil {
		s.logger.Warn("discarding malformed telemetry", "topic", topic, "error", err)
		return
	}
	res, err := s.ingester.Ingest(ctx, raw, SourceMQTT)
	if err != nil {
		s.logger.Error("ingest failed", "topic", topic, "device_id", raw.DeviceID, "error", err)
		return
	}
	s.logger.Debug("telemetry ingested", "device_id", raw.DeviceID, "sample_id", res.SampleID, "outcome", res.Outcome)
}

// deviceFromTopic returns the segment after "devices" in topics shaped like
// airq/devices/<id>/telemetry, or "" when there is none.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "devices" {
			return parts[i+1]
		}
	}
	return ""
}

func normalizeBrokerURL(raw string) string {
	u := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(u, "mqtt://"); ok {
		return "tcp://" + rest
	}
	if rest, ok := strings.CutPrefix(u, "mqtts://"); ok {
		return "ssl://" + rest
	}
	return u
}
