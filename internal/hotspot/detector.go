// Package hotspot tracks sustained pollution at near-fixed locations across
// detection cycles. A location key moves absent → active → resolved and may
// become active again; records are never deleted.
package hotspot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// Severity levels, a step function of mean AQI.
const (
	SeverityCritical = "critical"
	SeveritySevere   = "severe"
	SeverityHigh     = "high"
	SeverityModerate = "moderate"
	SeverityLow      = "low"
)

// Primary pollutants.
const (
	PollutantPM25 = "PM2.5"
	PollutantCO   = "CO"
)

// Lifecycle transitions.
const (
	TransitionCreated  = "created"
	TransitionUpdated  = "updated"
	TransitionResolved = "resolved"
)

// Store is the persistence the detector needs.
type Store interface {
	FetchReadings(ctx context.Context, since time.Time, deviceID string) ([]domain.CalibratedReading, error)
	FetchActiveHotspots(ctx context.Context) ([]domain.Hotspot, error)
	UpsertHotspot(ctx context.Context, h domain.Hotspot) error
	ResolveHotspot(ctx context.Context, id string, at time.Time) error
}

// Publisher receives lifecycle transitions.
type Publisher interface {
	PublishHotspot(ctx context.Context, change domain.HotspotChange) error
}

// Config holds the detection thresholds.
type Config struct {
	Threshold    float64 // mean AQI at or above which a location is a candidate
	MinSustained int     // readings individually at or above Threshold
	RadiusM      float64
	Precision    int // decimals of the location key
}

// DefaultConfig returns AQI 100 sustained over 3 readings, 500 m radius, ~100 m keys.
func DefaultConfig() Config {
	return Config{Threshold: 100, MinSustained: 3, RadiusM: 500, Precision: domain.LocationKeyPrecision}
}

// Summary is the outcome of one detection cycle.
type Summary struct {
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Resolved         int `json:"resolved"`
	Active           int `json:"active"`
	StationsAnalyzed int `json:"stations_analyzed"`
}

// Detector runs hotspot detection cycles.
type Detector struct {
	store     Store
	geocoder  domain.Geocoder
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	cfg       Config
}

// Option configures a Detector.
type Option func(*Detector)

// WithGeocoder names newly created hotspots.
func WithGeocoder(g domain.Geocoder) Option { return func(d *Detector) { d.geocoder = g } }

// WithPublisher publishes created and resolved transitions.
func WithPublisher(p Publisher) Option { return func(d *Detector) { d.publisher = p } }

// WithClock overrides the time source.
func WithClock(c clockwork.Clock) Option { return func(d *Detector) { d.clock = c } }

// WithConfig overrides the detection thresholds.
func WithConfig(cfg Config) Option { return func(d *Detector) { d.cfg = cfg } }

// NewDetector creates a detector with DefaultConfig.
func NewDetector(store Store, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Detector {
	d := &Detector{
		store:   store,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// candidate is one location confirmed in this cycle.
type candidate struct {
	key       string
	lat, lon  float64
	aqiSum    float64
	count     int
	peakAQI   int
	peakPM25  float64
	peakCO    float64
	pm25Sum   float64
	pm25N     int
	coSum     float64
	coN       int
	firstSeen time.Time
	latestAt  time.Time
}

// Detect runs one cycle over the readings of the last lookback window.
// Failing to read readings or active hotspots aborts the cycle; a failed
// write is logged, skipped and reported in the returned error.
func (d *Detector) Detect(ctx context.Context, lookback time.Duration) (Summary, error) {
	now := d.clock.Now().UTC()
	readings, err := d.store.FetchReadings(ctx, now.Add(-lookback), "")
	if err != nil {
		return Summary{}, fmt.Errorf("fetch readings: %w", err)
	}
	existing, err := d.store.FetchActiveHotspots(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch active hotspots: %w", err)
	}

	byKey := make(map[string]domain.Hotspot, len(existing))
	for _, h := range existing {
		key := h.LocationKey
		if key == "" {
			key = domain.LocationKey(h.Latitude, h.Longitude, d.cfg.Precision)
		}
		byKey[key] = h
	}

	stations := groupByDevice(readings)
	candidates := d.confirm(stations)

	var summary Summary
	var errs []error
	summary.StationsAnalyzed = len(stations)

	confirmed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		confirmed[c.key] = true
		h, transition := d.apply(ctx, c, byKey, now)
		if err := d.store.UpsertHotspot(ctx, h); err != nil {
			d.storeError("upsert_hotspot", err)
			errs = append(errs, fmt.Errorf("upsert hotspot %s: %w", c.key, err))
			if transition == TransitionUpdated {
				summary.Active++
			}
			continue
		}
		switch transition {
		case TransitionCreated:
			summary.Created++
			d.logger.Info("hotspot created", "location_key", c.key, "severity", h.SeverityLevel, "avg_aqi", h.AvgAQI)
			d.publish(ctx, domain.HotspotChange{Transition: transition, Hotspot: h, At: now})
		default:
			summary.Updated++
			d.logger.Debug("hotspot updated", "location_key", c.key, "severity", h.SeverityLevel, "avg_aqi", h.AvgAQI)
		}
		d.transition(transition)
		summary.Active++
	}

	for key, h := range byKey {
		if confirmed[key] {
			continue
		}
		if err := d.store.ResolveHotspot(ctx, h.ID, now); err != nil {
			d.storeError("resolve_hotspot", err)
			errs = append(errs, fmt.Errorf("resolve hotspot %s: %w", key, err))
			summary.Active++
			continue
		}
		summary.Resolved++
		d.transition(TransitionResolved)
		d.logger.Info("hotspot resolved", "location_key", key, "hotspot_id", h.ID)

		h.IsActive = false
		resolvedAt := now
		h.ResolvedAt = &resolvedAt
		h.LastUpdatedAt = now
		d.publish(ctx, domain.HotspotChange{Transition: TransitionResolved, Hotspot: h, At: now})
	}

	if d.metrics != nil {
		d.metrics.HotspotsActive.Set(float64(summary.Active))
	}
	d.logger.Info("hotspot detection complete",
		"created", summary.Created, "updated", summary.Updated,
		"resolved", summary.Resolved, "active", summary.Active,
		"stations_analyzed", summary.StationsAnalyzed)
	return summary, errors.Join(errs...)
}

func groupByDevice(readings []domain.CalibratedReading) map[string][]domain.CalibratedReading {
	out := make(map[string][]domain.CalibratedReading)
	for _, r := range readings {
		if r.DeviceID == "" {
			continue
		}
		out[r.DeviceID] = append(out[r.DeviceID], r)
	}
	return out
}

// confirm applies the sustained-threshold test per device and merges devices
// whose latest fix falls in the same location key. Candidates are returned in
// key order.
func (d *Detector) confirm(stations map[string][]domain.CalibratedReading) []*candidate {
	byKey := make(map[string]*candidate)
	for _, rows := range stations {
		var aqiSum float64
		above := 0
		for _, r := range rows {
			aqiSum += float64(r.AQI)
			if float64(r.AQI) >= d.cfg.Threshold {
				above++
			}
		}
		if aqiSum/float64(len(rows)) < d.cfg.Threshold || above < d.cfg.MinSustained {
			continue
		}

		latest := rows[0]
		for _, r := range rows[1:] {
			if r.RecordedAt.After(latest.RecordedAt) {
				latest = r
			}
		}
		key := domain.LocationKey(latest.Latitude, latest.Longitude, d.cfg.Precision)
		c, ok := byKey[key]
		if !ok {
			c = &candidate{key: key}
			byKey[key] = c
		}
		if latest.RecordedAt.After(c.latestAt) {
			c.lat, c.lon, c.latestAt = latest.Latitude, latest.Longitude, latest.RecordedAt
		}
		for _, r := range rows {
			c.add(r)
		}
	}

	out := make([]*candidate, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (c *candidate) add(r domain.CalibratedReading) {
	c.aqiSum += float64(r.AQI)
	c.count++
	c.peakAQI = max(c.peakAQI, r.AQI)
	if r.PM25 != nil {
		c.pm25Sum += *r.PM25
		c.pm25N++
		c.peakPM25 = math.Max(c.peakPM25, *r.PM25)
	}
	if r.CO != nil {
		c.coSum += *r.CO
		c.coN++
		c.peakCO = math.Max(c.peakCO, *r.CO)
	}
	if c.firstSeen.IsZero() || r.RecordedAt.Before(c.firstSeen) {
		c.firstSeen = r.RecordedAt
	}
}

func (c *candidate) avgAQI() float64 { return domain.RoundTo(c.aqiSum/float64(c.count), 1) }

func (c *candidate) avgPM25() float64 {
	if c.pm25N == 0 {
		return 0
	}
	return c.pm25Sum / float64(c.pm25N)
}

func (c *candidate) avgCO() float64 {
	if c.coN == 0 {
		return 0
	}
	return c.coSum / float64(c.coN)
}

// apply builds the record to persist for a confirmed candidate: the existing
// active record updated in place, or a new one.
func (d *Detector) apply(ctx context.Context, c *candidate, existing map[string]domain.Hotspot, now time.Time) (domain.Hotspot, string) {
	pollutant := PrimaryPollutant(c.avgPM25(), c.avgCO())
	peak := domain.RoundTo(c.peakPM25, 1)
	if pollutant == PollutantCO {
		peak = domain.RoundTo(c.peakCO, 2)
	}

	h, ok := existing[c.key]
	transition := TransitionUpdated
	if !ok {
		transition = TransitionCreated
		h = domain.Hotspot{
			ID:              uuid.NewString(),
			LocationKey:     c.key,
			FirstDetectedAt: c.firstSeen,
		}
		h.PlaceName = d.placeName(ctx, c.lat, c.lon)
	}

	h.LocationKey = c.key
	h.Latitude, h.Longitude = c.lat, c.lon
	h.RadiusM = d.cfg.RadiusM
	h.AvgAQI = c.avgAQI()
	h.SeverityLevel = SeverityFor(h.AvgAQI)
	h.PrimaryPollutant = pollutant
	h.PeakValue = peak
	h.PeakAQI = c.peakAQI
	h.ContributingReadings = c.count
	h.LastUpdatedAt = now
	h.IsActive = true
	h.ResolvedAt = nil
	return h, transition
}

func (d *Detector) placeName(ctx context.Context, lat, lon float64) string {
	if d.geocoder == nil {
		return ""
	}
	res, err := d.geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		d.logger.Warn("hotspot reverse geocode failed", "lat", lat, "lon", lon, "error", err)
		return ""
	}
	return res.PlaceName
}

func (d *Detector) publish(ctx context.Context, change domain.HotspotChange) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishHotspot(ctx, change); err != nil {
		d.logger.Warn("publish hotspot change failed", "transition", change.Transition, "hotspot_id", change.Hotspot.ID, "error", err)
	}
}

func (d *Detector) transition(t string) {
	if d.metrics != nil {
		d.metrics.HotspotTransitions.WithLabelValues(t).Inc()
	}
}

func (d *Detector) storeError(op string, err error) {
	d.logger.Error("hotspot store operation failed", "op", op, "error", err)
	if d.metrics != nil {
		d.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

// SeverityFor maps mean AQI to a severity level.
func SeverityFor(avgAQI float64) string {
	switch {
	case avgAQI >= 300:
		return SeverityCritical
	case avgAQI >= 200:
		return SeveritySevere
	case avgAQI >= 150:
		return SeverityHigh
	case avgAQI >= 100:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// PrimaryPollutant picks PM2.5 when its mean is past the "moderate" tier,
// otherwise CO when its mean is, otherwise PM2.5.
func PrimaryPollutant(avgPM25, avgCO float64) string {
	if avgPM25 > domain.PM25Breakpoints[1].ConcHi {
		return PollutantPM25
	}
	if avgCO > domain.COBreakpoints[1].ConcHi {
		return PollutantCO
	}
	return PollutantPM25
}
