// Package alert compares zone, reading and hotspot statistics against tiered
// thresholds and persists deduplicated alerts.
//
// An alert is keyed on (type, subject, severity). While an alert at a key is
// active and unacknowledged no second one is created; a different tier is a
// different key and fires. Acknowledging or resolving frees the key.
package alert

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/zone"
)

// ErrNotFound is returned when acknowledging or resolving an alert that does
// not exist or is already closed.
var ErrNotFound = errors.New("alert not found or already closed")

// Store is the persistence the evaluator needs.
type Store interface {
	// FetchActiveAlert returns the active, unacknowledged alert with the
	// given dedup key, or nil.
	FetchActiveAlert(ctx context.Context, dedupKey string) (*domain.Alert, error)
	InsertAlert(ctx context.Context, a domain.Alert) error
	AcknowledgeAlert(ctx context.Context, id string) (bool, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) (bool, error)
}

// Publisher receives every fired alert.
type Publisher interface {
	PublishAlert(ctx context.Context, a domain.Alert) error
}

// keyStripes bounds the lock table that serializes check-then-insert per
// dedup key. Unrelated keys sharing a stripe only wait on each other.
const keyStripes = 64

// Evaluator fires alerts. It is safe for concurrent use: inline ingest and
// the background sweep evaluate the same keys at the same time.
type Evaluator struct {
	store     Store
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	locks [keyStripes]sync.Mutex
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPublisher publishes fired alerts.
func WithPublisher(p Publisher) Option { return func(e *Evaluator) { e.publisher = p } }

// WithClock overrides the time source.
func WithClock(c clockwork.Clock) Option { return func(e *Evaluator) { e.clock = c } }

// NewEvaluator creates an Evaluator.
func NewEvaluator(store Store, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:   store,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// subject identifies what an alert is about.
type subject struct {
	key      string // dedup subject
	label    string // human-readable location for messages
	deviceID string
	lat, lon float64
}

// EvaluateZones checks every zone mean against all zone rules. At most one
// alert per (zone, type) fires per call: the highest tier matched.
func (e *Evaluator) EvaluateZones(ctx context.Context, zones []zone.Zone) ([]domain.Alert, error) {
	var fired []domain.Alert
	var errs []error
	for _, z := range zones {
		s := subject{key: z.ID, label: "zone " + z.ID, lat: z.Lat, lon: z.Lon}
		values := map[string]*float64{
			domain.AlertAQI:      z.AvgAQI,
			domain.AlertPM25:     z.AvgPM25,
			domain.AlertCO:       z.AvgCO,
			domain.AlertHeat:     z.AvgHeatIndex,
			domain.AlertToxicGas: z.AvgToxicGas,
		}
		for _, rule := range ZoneRules {
			v := values[rule.Type]
			if v == nil {
				continue
			}
			a, err := e.fire(ctx, rule, *v, s)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if a != nil {
				fired = append(fired, *a)
			}
		}
	}
	return fired, errors.Join(errs...)
}

// EvaluateReadings checks the AQI of single readings, keyed per device.
func (e *Evaluator) EvaluateReadings(ctx context.Context, readings []domain.CalibratedReading) ([]domain.Alert, error) {
	var fired []domain.Alert
	var errs []error
	for _, r := range readings {
		s := subject{
			key:      "device:" + r.DeviceID,
			label:    "device " + r.DeviceID,
			deviceID: r.DeviceID,
			lat:      r.Latitude,
			lon:      r.Longitude,
		}
		a, err := e.fire(ctx, AQIRule, float64(r.AQI), s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if a != nil {
			fired = append(fired, *a)
		}
	}
	return fired, errors.Join(errs...)
}

// EvaluateHotspots checks the peak AQI of active hotspots, keyed per location.
func (e *Evaluator) EvaluateHotspots(ctx context.Context, hotspots []domain.Hotspot) ([]domain.Alert, error) {
	var fired []domain.Alert
	var errs []error
	for _, h := range hotspots {
		if !h.IsActive {
			continue
		}
		label := "hotspot " + h.LocationKey
		if h.PlaceName != "" {
			label = "hotspot near " + h.PlaceName
		}
		s := subject{key: "hotspot:" + h.LocationKey, label: label, lat: h.Latitude, lon: h.Longitude}
		a, err := e.fire(ctx, AQIRule, float64(h.PeakAQI), s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if a != nil {
			fired = append(fired, *a)
		}
	}
	return fired, errors.Join(errs...)
}

// fire creates an alert for the highest tier v reaches unless one is already
// active at that key. It returns nil when nothing fired.
func (e *Evaluator) fire(ctx context.Context, rule Rule, v float64, s subject) (*domain.Alert, error) {
	tier, ok := rule.Match(v)
	if !ok {
		return nil, nil
	}
	key := domain.DedupKey(rule.Type, s.key, tier.Severity)

	mu := e.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	existing, err := e.store.FetchActiveAlert(ctx, key)
	if err != nil {
		e.storeError("fetch_active_alert", err)
		return nil, fmt.Errorf("fetch active alert %s: %w", key, err)
	}
	if existing != nil {
		return nil, nil
	}

	a := domain.Alert{
		ID:             uuid.NewString(),
		DedupKey:       key,
		AlertType:      rule.Type,
		Severity:       tier.Severity.String(),
		Title:          tier.title(v),
		Message:        tier.message(v, s.label),
		TriggerValue:   domain.RoundTo(v, 2),
		ThresholdValue: tier.Threshold,
		Subject:        s.key,
		DeviceID:       s.deviceID,
		Latitude:       s.lat,
		Longitude:      s.lon,
		IsActive:       true,
		CreatedAt:      e.clock.Now().UTC(),
	}
	if err := e.store.InsertAlert(ctx, a); err != nil {
		e.storeError("insert_alert", err)
		return nil, fmt.Errorf("insert alert %s: %w", key, err)
	}

	e.logger.Info("alert fired", "dedup_key", key, "title", a.Title, "trigger_value", a.TriggerValue)
	if e.metrics != nil {
		e.metrics.AlertsFired.WithLabelValues(a.AlertType, a.Severity).Inc()
	}
	if e.publisher != nil {
		if err := e.publisher.PublishAlert(ctx, a); err != nil {
			e.logger.Warn("publish alert failed", "alert_id", a.ID, "error", err)
		}
	}
	return &a, nil
}

// Acknowledge dismisses an active alert, freeing its dedup key.
func (e *Evaluator) Acknowledge(ctx context.Context, id string) error {
	ok, err := e.store.AcknowledgeAlert(ctx, id)
	if err != nil {
		e.storeError("acknowledge_alert", err)
		return fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	e.logger.Info("alert acknowledged", "alert_id", id)
	return nil
}

// Resolve closes an active alert, freeing its dedup key.
func (e *Evaluator) Resolve(ctx context.Context, id string) error {
	ok, err := e.store.ResolveAlert(ctx, id, e.clock.Now().UTC())
	if err != nil {
		e.storeError("resolve_alert", err)
		return fmt.Errorf("resolve alert %s: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	e.logger.Info("alert resolved", "alert_id", id)
	return nil
}

func (e *Evaluator) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &e.locks[h.Sum32()%keyStripes]
}

func (e *Evaluator) storeError(op string, err error) {
	e.logger.Error("alert store operation failed", "op", op, "error", err)
	if e.metrics != nil {
		e.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}
