//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/air-quality-etl/internal/alert"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
	"github.com/couchcryptid/air-quality-etl/internal/store"
)

const testAlertTopic = "test-air-quality-alerts"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("airq-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

type event struct {
	Key     string
	Headers map[string]string
	Value   []byte
}

func readEvent(ctx context.Context, t *testing.T, consumer *kafkago.Reader) event {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from alert topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return event{Key: string(msg.Key), Headers: headers, Value: msg.Value}
}

func openRepo(t *testing.T) *store.Repo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), store.GormConfig(discardLogger()))
	require.NoError(t, err)
	repo, err := store.New(db, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// TestIngestFiresAlertToKafka ingests a polluted sample and expects the
// per-device AQI alert on the topic, and no second alert for a repeat.
func TestIngestFiresAlertToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testAlertTopic)

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	repo := openRepo(t)

	publisher := kafka.NewPublisher([]string{broker}, testAlertTopic, logger, metrics)
	t.Cleanup(func() { _ = publisher.Close() })

	evaluator := alert.NewEvaluator(repo, logger, metrics, alert.WithPublisher(publisher))
	proc := domain.NewProcessor(domain.NewStateStore(), domain.Geo{Lat: 12.9716, Lon: 77.5946})
	p := pipeline.New(proc, repo, logger, metrics, pipeline.Config{},
		pipeline.WithObserver(func(ctx context.Context, readings []domain.CalibratedReading) {
			_, err := evaluator.EvaluateReadings(ctx, readings)
			assert.NoError(t, err)
		}))

	raw := domain.RawSample{
		DeviceID:    "esp32-01",
		Particulate: domain.Float(120),
		Temperature: domain.Float(29),
		Humidity:    domain.Float(60),
		Latitude:    12.9716,
		Longitude:   77.5946,
		RecordedAt:  time.Now().UTC(),
	}
	res, err := p.Ingest(ctx, raw, "test")
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeProcessed, res.Outcome)
	require.NotNil(t, res.Reading)
	require.GreaterOrEqual(t, res.Reading.AQI, 200)

	// Same severity again is deduplicated while the first alert is active.
	raw.RecordedAt = raw.RecordedAt.Add(30 * time.Second)
	_, err = p.Ingest(ctx, raw, "test")
	require.NoError(t, err)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testAlertTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	ev := readEvent(ctx, t, consumer)
	assert.Equal(t, kafka.KindAlert, ev.Headers["event_kind"])
	assert.Equal(t, "danger", ev.Headers["severity"])
	assert.Equal(t, "aqi:device:esp32-01:danger", ev.Key)
	_, err = time.Parse(time.RFC3339, ev.Headers["created_at"])
	require.NoError(t, err)

	var a domain.Alert
	require.NoError(t, json.Unmarshal(ev.Value, &a))
	assert.Equal(t, domain.AlertAQI, a.AlertType)
	assert.Equal(t, "esp32-01", a.DeviceID)
	assert.True(t, a.IsActive)

	active, err := repo.ListAlerts(ctx, store.AlertFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// TestPublishHotspotChange round-trips a lifecycle transition.
func TestPublishHotspotChange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testAlertTopic)

	publisher := kafka.NewPublisher([]string{broker}, testAlertTopic, discardLogger(), observability.NewMetricsForTesting())
	t.Cleanup(func() { _ = publisher.Close() })

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	change := domain.HotspotChange{
		Transition: "created",
		Hotspot: domain.Hotspot{
			ID: "h-1", LocationKey: domain.LocationKey(12.9716, 77.5946, domain.LocationKeyPrecision),
			PeakAQI: 231, SeverityLevel: "high", IsActive: true, FirstDetectedAt: at, LastUpdatedAt: at,
		},
		At: at,
	}
	require.NoError(t, publisher.PublishHotspot(ctx, change))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testAlertTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	ev := readEvent(ctx, t, consumer)
	assert.Equal(t, "12.972_77.595", ev.Key)
	assert.Equal(t, "created", ev.Headers["transition"])

	var got domain.HotspotChange
	require.NoError(t, json.Unmarshal(ev.Value, &got))
	assert.Equal(t, change, got)
}
