// Package scheduler runs the periodic analysis cycle: hotspot detection
// followed by alert evaluation over zones and active hotspots.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/hotspot"
	"github.com/couchcryptid/air-quality-etl/internal/zone"
)

// Store is the read side the alert pass needs.
type Store interface {
	FetchReadings(ctx context.Context, since time.Time, deviceID string) ([]domain.CalibratedReading, error)
	FetchActiveHotspots(ctx context.Context) ([]domain.Hotspot, error)
}

// Detector runs one hotspot detection cycle.
type Detector interface {
	Detect(ctx context.Context, lookback time.Duration) (hotspot.Summary, error)
}

// Evaluator fires alerts for zones and hotspots.
type Evaluator interface {
	EvaluateZones(ctx context.Context, zones []zone.Zone) ([]domain.Alert, error)
	EvaluateHotspots(ctx context.Context, hotspots []domain.Hotspot) ([]domain.Alert, error)
}

// Config controls the cycle cadence and windows.
type Config struct {
	Schedule        string // standard cron spec or descriptor such as "@every 5m"
	HotspotLookback time.Duration
	AlertWindow     time.Duration
	ZonePrecision   int
}

// CycleResult summarizes one analysis cycle.
type CycleResult struct {
	Hotspots    hotspot.Summary `json:"hotspots"`
	ZonesScored int             `json:"zones_scored"`
	AlertsFired []domain.Alert  `json:"alerts_fired"`
}

// Scheduler owns the cron runner for the analysis cycle.
type Scheduler struct {
	cfg       Config
	store     Store
	detector  Detector
	evaluator Evaluator
	logger    *slog.Logger
	clock     clockwork.Clock

	cron *cron.Cron
	// mu serializes cycles started by cron and by on-demand callers.
	mu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock used to compute the alert window.
func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// New validates the schedule and returns a stopped scheduler.
func New(cfg Config, store Store, detector Detector, evaluator Evaluator, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if cfg.ZonePrecision < zone.MinPrecision || cfg.ZonePrecision > zone.MaxPrecision {
		cfg.ZonePrecision = zone.DefaultPrecision
	}
	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		detector:  detector,
		evaluator: evaluator,
		logger:    logger,
		clock:     clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start registers the cycle job and starts the cron runner. Jobs run with ctx
// and stop being scheduled when Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunCycle(ctx); err != nil {
			s.logger.Error("analysis cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule analysis cycle: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop halts scheduling and waits for a running cycle to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunCycle detects hotspots, then evaluates alerts. A detection failure does
// not skip the alert pass; both errors are returned joined.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res CycleResult
	summary, detectErr := s.detector.Detect(ctx, s.cfg.HotspotLookback)
	res.Hotspots = summary
	if detectErr != nil {
		detectErr = fmt.Errorf("hotspot detection: %w", detectErr)
	}

	zones, alerts, evalErr := s.evaluate(ctx)
	res.ZonesScored = zones
	res.AlertsFired = alerts

	s.logger.Info("analysis cycle complete",
		"hotspots_active", summary.Active, "zones", zones, "alerts_fired", len(alerts))
	return res, errors.Join(detectErr, evalErr)
}

// EvaluateAlerts runs only the alert pass.
func (s *Scheduler) EvaluateAlerts(ctx context.Context) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, alerts, err := s.evaluate(ctx)
	return alerts, err
}

func (s *Scheduler) evaluate(ctx context.Context) (int, []domain.Alert, error) {
	since := s.clock.Now().UTC().Add(-s.cfg.AlertWindow)
	readings, err := s.store.FetchReadings(ctx, since, "")
	if err != nil {
		return 0, nil, fmt.Errorf("fetch readings for alerts: %w", err)
	}
	zones := zone.Cluster(readings, s.cfg.ZonePrecision, zone.ScoreOverall)

	var errs []error
	fired, err := s.evaluator.EvaluateZones(ctx, zones)
	if err != nil {
		errs = append(errs, fmt.Errorf("zone alerts: %w", err))
	}

	hotspots, err := s.store.FetchActiveHotspots(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("fetch active hotspots: %w", err))
		return len(zones), fired, errors.Join(errs...)
	}
	more, err := s.evaluator.EvaluateHotspots(ctx, hotspots)
	if err != nil {
		errs = append(errs, fmt.Errorf("hotspot alerts: %w", err))
	}
	return len(zones), append(fired, more...), errors.Join(errs...)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
