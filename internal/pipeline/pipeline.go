package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// Sample outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDropped   = "dropped"
	OutcomeDeferred  = "deferred"
	outcomeDuplicate = "duplicate"
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetOrCreateDevice(ctx context.Context, deviceID string) (domain.Device, error)
	InsertRawSample(ctx context.Context, s *domain.RawSample) error
	FetchUnprocessedSamples(ctx context.Context, limit int) ([]domain.RawSample, error)
	MarkProcessed(ctx context.Context, ids []string) error
	InsertReading(ctx context.Context, r domain.CalibratedReading) error
	BatchInsertReadings(ctx context.Context, rs []domain.CalibratedReading) (int, error)
}

// ReadingObserver is called with readings after they are persisted.
type ReadingObserver func(ctx context.Context, readings []domain.CalibratedReading)

// Config holds the sweep settings.
type Config struct {
	BatchSize int
	Interval  time.Duration
}

// Pipeline is the single processing entry point: inline ingestion and the
// periodic sweep over unprocessed rows share one Processor, so per-device
// state stays consistent between them.
type Pipeline struct {
	processor *domain.Processor
	store     Store
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	observer  ReadingObserver
	ready     atomic.Bool
	batchSize int
	interval  time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the sweep clock.
func WithClock(c clockwork.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithObserver registers a callback for persisted readings.
func WithObserver(o ReadingObserver) Option { return func(p *Pipeline) { p.observer = o } }

// New creates a Pipeline.
func New(proc *domain.Processor, store Store, logger *slog.Logger, metrics *observability.Metrics, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		processor: proc,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
	}
	if p.batchSize <= 0 {
		p.batchSize = 1000
	}
	if p.interval <= 0 {
		p.interval = 25 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a sweep has completed, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a sweep yet")
	}
	return nil
}

// IngestResult reports what happened to one ingested sample.
type IngestResult struct {
	SampleID string                    `json:"sample_id"`
	Outcome  string                    `json:"outcome"`
	Reading  *domain.CalibratedReading `json:"reading,omitempty"`
	Reasons  []string                  `json:"reasons,omitempty"`
}

// Ingest registers the device if needed, stores the raw sample and processes
// it inline. Failing to store the sample is an error; failing to process it
// afterwards defers it to the sweep.
func (p *Pipeline) Ingest(ctx context.Context, raw domain.RawSample, source string) (IngestResult, error) {
	dev, err := p.store.GetOrCreateDevice(ctx, raw.DeviceID)
	if err != nil {
		p.storeError("get_or_create_device", err)
		return IngestResult{}, fmt.Errorf("device %s: %w", raw.DeviceID, err)
	}
	raw.Processed = false
	if err := p.store.InsertRawSample(ctx, &raw); err != nil {
		p.storeError("insert_raw_sample", err)
		return IngestResult{}, err
	}
	p.metrics.SamplesIngested.WithLabelValues(source).Inc()

	res := IngestResult{SampleID: raw.ID}
	reading, err := p.ProcessOne(ctx, raw, dev)
	var rej *domain.RejectionError
	switch {
	case errors.As(err, &rej):
		res.Outcome = OutcomeDropped
		res.Reasons = rej.Reasons
	case err != nil:
		p.logger.Warn("inline processing failed, deferring to sweep", "sample_id", raw.ID, "device_id", raw.DeviceID, "error", err)
		p.metrics.SamplesProcessed.WithLabelValues(OutcomeDeferred).Inc()
		res.Outcome = OutcomeDeferred
	default:
		res.Outcome = OutcomeProcessed
		res.Reading = reading
		p.observe(ctx, []domain.CalibratedReading{*reading})
	}
	return res, nil
}

// ProcessOne calibrates one stored raw sample, persists the reading and marks
// the sample consumed. A rejected sample is consumed too and returns a
// *domain.RejectionError with a nil reading. Any other error leaves the sample
// unprocessed. A sample already marked processed is a no-op: it returns the
// remembered reading, or nil once the processor has forgotten it.
func (p *Pipeline) ProcessOne(ctx context.Context, raw domain.RawSample, dev domain.Device) (*domain.CalibratedReading, error) {
	if raw.Processed {
		p.metrics.SamplesProcessed.WithLabelValues(outcomeDuplicate).Inc()
		if r, ok := p.processor.Recall(raw); ok {
			return &r, nil
		}
		return nil, nil
	}

	reading, err := p.process(raw, dev)
	if err != nil {
		if markErr := p.store.MarkProcessed(ctx, []string{raw.ID}); markErr != nil {
			p.storeError("mark_processed", markErr)
			return nil, markErr
		}
		p.logger.Info("sample rejected", "sample_id", raw.ID, "device_id", raw.DeviceID, "reason", err)
		p.metrics.SamplesProcessed.WithLabelValues(OutcomeDropped).Inc()
		return nil, err
	}

	outcome := OutcomeProcessed
	if err := p.store.InsertReading(ctx, reading); err != nil {
		if !errors.Is(err, domain.ErrDuplicateReading) {
			p.storeError("insert_reading", err)
			return nil, err
		}
		outcome = outcomeDuplicate
	}
	if err := p.store.MarkProcessed(ctx, []string{raw.ID}); err != nil {
		p.storeError("mark_processed", err)
		return nil, err
	}
	p.metrics.SamplesProcessed.WithLabelValues(outcome).Inc()
	return &reading, nil
}

// process runs the processor, turning a panic into a rejection so one bad row
// cannot stop a sweep.
func (p *Pipeline) process(raw domain.RawSample, dev domain.Device) (reading domain.CalibratedReading, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("panic while processing sample", "sample_id", raw.ID, "panic", rec)
			err = &domain.RejectionError{SampleID: raw.ID, Reasons: []string{fmt.Sprintf("internal error: %v", rec)}}
		}
	}()
	return p.processor.Process(raw, dev)
}

// BatchResult summarises one sweep.
type BatchResult struct {
	Processed int `json:"processed"`
	Dropped   int `json:"dropped"`
}

// ProcessBatch drains unprocessed samples page by page until a page comes back
// short. On a store failure it returns the counts so far with the error; the
// unconsumed rows are retried by the next sweep.
func (p *Pipeline) ProcessBatch(ctx context.Context) (BatchResult, error) {
	start := p.clock.Now()
	var total BatchResult
	defer func() {
		p.metrics.SweepSize.Observe(float64(total.Processed + total.Dropped))
		p.metrics.SweepDuration.Observe(p.clock.Since(start).Seconds())
	}()

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		samples, err := p.store.FetchUnprocessedSamples(ctx, p.batchSize)
		if err != nil {
			p.storeError("fetch_unprocessed_samples", err)
			return total, fmt.Errorf("fetch unprocessed samples: %w", err)
		}
		if len(samples) == 0 {
			return total, nil
		}

		page, err := p.processPage(ctx, samples)
		total.Processed += page.Processed
		total.Dropped += page.Dropped
		if err != nil {
			return total, err
		}
		if len(samples) < p.batchSize || page.Processed+page.Dropped == 0 {
			return total, nil
		}
	}
}

func (p *Pipeline) processPage(ctx context.Context, samples []domain.RawSample) (BatchResult, error) {
	var res BatchResult
	devices := make(map[string]domain.Device)
	readings := make([]domain.CalibratedReading, 0, len(samples))
	var rejected []string

	for _, raw := range samples {
		dev, ok := devices[raw.DeviceID]
		if !ok {
			var err error
			dev, err = p.store.GetOrCreateDevice(ctx, raw.DeviceID)
			if err != nil {
				p.storeError("get_or_create_device", err)
				return res, fmt.Errorf("device %s: %w", raw.DeviceID, err)
			}
			devices[raw.DeviceID] = dev
		}

		reading, err := p.process(raw, dev)
		if err != nil {
			p.logger.Info("sample rejected", "sample_id", raw.ID, "device_id", raw.DeviceID, "reason", err)
			rejected = append(rejected, raw.ID)
			continue
		}
		readings = append(readings, reading)
	}

	stored, storeErr := p.persist(ctx, readings)

	consumed := rejected
	for _, r := range stored {
		consumed = append(consumed, r.RawSampleID)
	}
	if err := p.store.MarkProcessed(ctx, consumed); err != nil {
		p.storeError("mark_processed", err)
		return res, errors.Join(storeErr, fmt.Errorf("mark processed: %w", err))
	}

	res.Dropped = len(rejected)
	res.Processed = len(stored)
	p.metrics.SamplesProcessed.WithLabelValues(OutcomeDropped).Add(float64(res.Dropped))
	p.metrics.SamplesProcessed.WithLabelValues(OutcomeProcessed).Add(float64(res.Processed))
	p.observe(ctx, stored)
	return res, storeErr
}

// persist writes readings in one batch, falling back to row-by-row inserts
// when the batch fails. It returns the readings that are now stored.
func (p *Pipeline) persist(ctx context.Context, readings []domain.CalibratedReading) ([]domain.CalibratedReading, error) {
	if len(readings) == 0 {
		return nil, nil
	}
	_, err := p.store.BatchInsertReadings(ctx, readings)
	if err == nil {
		return readings, nil
	}
	p.logger.Warn("batch insert failed, falling back to single inserts", "batch_size", len(readings), "error", err)

	stored := make([]domain.CalibratedReading, 0, len(readings))
	var errs []error
	for _, r := range readings {
		err := p.store.InsertReading(ctx, r)
		if err != nil && !errors.Is(err, domain.ErrDuplicateReading) {
			p.storeError("insert_reading", err)
			errs = append(errs, fmt.Errorf("insert reading for sample %s: %w", r.RawSampleID, err))
			continue
		}
		stored = append(stored, r)
	}
	return stored, errors.Join(errs...)
}

func (p *Pipeline) observe(ctx context.Context, readings []domain.CalibratedReading) {
	if p.observer != nil && len(readings) > 0 {
		p.observer(ctx, readings)
	}
}

func (p *Pipeline) storeError(op string, err error) {
	p.logger.Error("pipeline store operation failed", "op", op, "error", err)
	p.metrics.StoreErrors.WithLabelValues(op).Inc()
}

// Run sweeps immediately and then every interval until the context is
// cancelled. Consecutive failures back off before the next attempt.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "interval", p.interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		res, err := p.ProcessBatch(ctx)
		switch {
		case ctx.Err() != nil:
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case err != nil:
			p.logger.Error("sweep failed", "error", err, "processed", res.Processed, "dropped", res.Dropped)
			if !p.sleep(ctx, backoff) {
				p.logger.Info("pipeline stopping", "reason", ctx.Err())
				return nil
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
			continue
		default:
			backoff = 200 * time.Millisecond
			p.ready.Store(true)
			if res.Processed+res.Dropped > 0 {
				p.logger.Info("sweep complete", "processed", res.Processed, "dropped", res.Dropped)
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
