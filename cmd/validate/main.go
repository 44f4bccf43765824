// Command validate replays a raw-sample fixture through the processor and the
// downstream builders and checks the pipeline's invariants offline: rejection
// parity, calibrated value ranges, determinism, zone conservation,
// interpolation bounds and hotspot detection.
//
// Usage:
//
//	go run ./cmd/validate -fixture data/mock/raw_samples.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/hotspot"
	"github.com/couchcryptid/air-quality-etl/internal/interpolate"
	"github.com/couchcryptid/air-quality-etl/internal/zone"
)

var fallback = domain.Geo{Lat: 12.9716, Lon: 77.5946}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	fixture := flag.String("fixture", "", "path to a raw sample JSON fixture")
	flag.Parse()

	if *fixture == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*fixture); code != 0 {
		os.Exit(code)
	}
}

func run(fixturePath string) int {
	fmt.Println("=== Air Quality Pipeline Validation ===")
	fmt.Println()

	samples, err := loadJSON[domain.RawSample](fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fixture: %v\n", err)
		return 1
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stderr, "FATAL: fixture is empty")
		return 1
	}

	// Fixed clock at the last sample so recorded_at defaults and hotspot
	// lookbacks are reproducible.
	end := latest(samples)
	domain.SetClock(clockwork.NewFakeClockAt(end))
	defer domain.SetClock(nil)

	readings, replay := validateReplay(samples)
	phases := []*phase{
		validateFixture(samples),
		replay,
		validateDeterminism(samples, readings),
		validateZones(readings),
		validateInterpolation(readings),
		validateHotspots(readings, end),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Samples: %d raw, %d calibrated, %d rejected\n",
		len(samples), len(readings), len(samples)-len(readings))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func latest(samples []domain.RawSample) time.Time {
	var t time.Time
	for _, s := range samples {
		if s.RecordedAt.After(t) {
			t = s.RecordedAt
		}
	}
	return t.UTC()
}

// replay processes samples in recorded order with fresh device state.
func replay(samples []domain.RawSample) ([]domain.CalibratedReading, []error) {
	ordered := make([]domain.RawSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].RecordedAt.Before(ordered[j].RecordedAt) })

	proc := domain.NewProcessor(nil, fallback)
	readings := make([]domain.CalibratedReading, 0, len(ordered))
	errs := make([]error, len(ordered))
	for i, raw := range ordered {
		r, err := proc.Process(raw, domain.NewDevice(raw.DeviceID))
		if err != nil {
			errs[i] = err
			continue
		}
		readings = append(readings, r)
	}
	return readings, errs
}

// ── Phase 1: fixture integrity ──

func validateFixture(samples []domain.RawSample) *phase {
	p := &phase{name: "Phase 1: Fixture integrity"}
	seen := map[string]bool{}
	last := map[string]time.Time{}
	for i, s := range samples {
		if s.ID == "" {
			p.errorf("sample %d: missing id", i)
		} else if seen[s.ID] {
			p.errorf("sample %d: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.DeviceID == "" {
			p.errorf("sample %s: missing device_id", s.ID)
		}
		if s.RecordedAt.IsZero() {
			p.errorf("sample %s: missing recorded_at", s.ID)
		}
		if prev, ok := last[s.DeviceID]; ok && s.RecordedAt.Before(prev) {
			p.errorf("sample %s: recorded_at goes backwards for %s", s.ID, s.DeviceID)
		}
		last[s.DeviceID] = s.RecordedAt
	}
	return p
}

// ── Phase 2: validation and calibration ──

func validateReplay(samples []domain.RawSample) ([]domain.CalibratedReading, *phase) {
	p := &phase{name: "Phase 2: Validation & calibration"}
	readings, errs := replay(samples)

	rejected := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		rejected++
		var rej *domain.RejectionError
		if !errors.As(err, &rej) {
			p.errorf("unexpected non-rejection error: %v", err)
		} else if len(rej.Reasons) == 0 {
			p.errorf("sample %s rejected without a reason", rej.SampleID)
		}
	}
	wantRejected := 0
	for _, s := range samples {
		if domain.Validate(s) != nil {
			wantRejected++
		}
	}
	if rejected != wantRejected {
		p.errorf("rejected %d samples, bounds check says %d", rejected, wantRejected)
	}

	for _, r := range readings {
		checkReading(p, r)
	}
	return readings, p
}

func checkReading(p *phase, r domain.CalibratedReading) {
	if r.PM25 == nil || *r.PM25 < 0 {
		p.errorf("reading %s: pm25 missing or negative", r.RawSampleID)
	}
	if r.CO2 != nil && (*r.CO2 < domain.CO2Floor || *r.CO2 > domain.CO2Ceiling) {
		p.errorf("reading %s: co2 %g outside [%g, %g]", r.RawSampleID, *r.CO2, domain.CO2Floor, domain.CO2Ceiling)
	}
	if r.CO != nil && (*r.CO < domain.COFloor || *r.CO > domain.COCeiling) {
		p.errorf("reading %s: co %g outside [%g, %g]", r.RawSampleID, *r.CO, domain.COFloor, domain.COCeiling)
	}
	if r.AQI < 0 || r.AQI > 500 {
		p.errorf("reading %s: aqi %d outside [0, 500]", r.RawSampleID, r.AQI)
	}
	if got := domain.Category(r.AQI); got != r.AQICategory {
		p.errorf("reading %s: category %q, aqi %d says %q", r.RawSampleID, r.AQICategory, r.AQI, got)
	}
	if r.ToxicGasIndex < 0 || r.ToxicGasIndex > 100 {
		p.errorf("reading %s: toxic gas index %g outside [0, 100]", r.RawSampleID, r.ToxicGasIndex)
	}
	if r.SpeedKmh < 0 || r.DistanceM < 0 {
		p.errorf("reading %s: negative movement", r.RawSampleID)
	}
	if r.GPSFallbackUsed && (r.Latitude != fallback.Lat || r.Longitude != fallback.Lon) {
		p.errorf("reading %s: fallback flagged but location is %g,%g", r.RawSampleID, r.Latitude, r.Longitude)
	}
	if r.RecordedAt.Location() != time.UTC {
		p.errorf("reading %s: recorded_at not UTC", r.RawSampleID)
	}
}

// ── Phase 3: determinism ──

func validateDeterminism(samples []domain.RawSample, first []domain.CalibratedReading) *phase {
	p := &phase{name: "Phase 3: Determinism"}
	second, _ := replay(samples)
	if diff := cmp.Diff(first, second); diff != "" {
		p.errorf("second replay differs (-first +second):\n%s", diff)
	}
	return p
}

// ── Phase 4: zones ──

func validateZones(readings []domain.CalibratedReading) *phase {
	p := &phase{name: "Phase 4: Zone aggregation"}
	for prec := zone.MinPrecision; prec <= zone.MaxPrecision; prec++ {
		zones := zone.Cluster(readings, prec, zone.ScoreOverall)
		total := 0
		for i, z := range zones {
			total += z.ReadingCount
			if i > 0 && z.PrimaryScore > zones[i-1].PrimaryScore {
				p.errorf("precision %d: zones not ordered by score at %s", prec, z.ID)
			}
			if z.ReadingCount == 0 {
				p.errorf("precision %d: empty zone %s", prec, z.ID)
			}
		}
		if total != len(readings) {
			p.errorf("precision %d: zones hold %d readings, want %d", prec, total, len(readings))
		}
	}
	return p
}

// ── Phase 5: interpolation ──

func validateInterpolation(readings []domain.CalibratedReading) *phase {
	p := &phase{name: "Phase 5: Interpolation"}
	b := interpolate.NewBuilder(interpolate.DefaultOptions(), clockwork.NewFakeClock(), slog.Default())

	for _, field := range []string{domain.FieldAQI, domain.FieldPM25, domain.FieldTemperature} {
		points := interpolate.Aggregate(readings, field)
		heat, err := b.Heatmap(readings, field)
		if err != nil {
			p.errorf("%s heatmap: %v", field, err)
			continue
		}
		if len(points) < 2 {
			if !heat.InsufficientData() {
				p.errorf("%s heatmap: %d points but no insufficient-data marker", field, len(points))
			}
			continue
		}

		lo, hi := math.Inf(1), math.Inf(-1)
		for _, pt := range points {
			lo, hi = math.Min(lo, pt.Value), math.Max(hi, pt.Value)
		}
		for _, f := range heat.Features {
			v, _ := f.Properties["value"].(float64)
			// Values are rounded to 0.1 for output.
			if v < domain.RoundTo(lo, 1)-0.05 || v > domain.RoundTo(hi, 1)+0.05 {
				p.errorf("%s heatmap: cell value %g outside point range [%g, %g]", field, v, lo, hi)
			}
		}

		contours, err := b.Contours(readings, field)
		if err != nil {
			p.errorf("%s contours: %v", field, err)
			continue
		}
		cells := 0
		for _, f := range contours.Features {
			n, _ := f.Properties["cell_count"].(int)
			cells += n
		}
		if cells != len(heat.Features) {
			p.errorf("%s contours: bands hold %d cells, heatmap has %d", field, cells, len(heat.Features))
		}
	}
	return p
}

// ── Phase 6: hotspots ──

type memStore struct {
	readings []domain.CalibratedReading
	hotspots map[string]domain.Hotspot
}

func (m *memStore) FetchReadings(_ context.Context, since time.Time, _ string) ([]domain.CalibratedReading, error) {
	var out []domain.CalibratedReading
	for _, r := range m.readings {
		if !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) FetchActiveHotspots(context.Context) ([]domain.Hotspot, error) {
	var out []domain.Hotspot
	for _, h := range m.hotspots {
		if h.IsActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) UpsertHotspot(_ context.Context, h domain.Hotspot) error {
	m.hotspots[h.ID] = h
	return nil
}

func (m *memStore) ResolveHotspot(_ context.Context, id string, at time.Time) error {
	h := m.hotspots[id]
	h.IsActive, h.ResolvedAt = false, &at
	m.hotspots[id] = h
	return nil
}

func validateHotspots(readings []domain.CalibratedReading, end time.Time) *phase {
	p := &phase{name: "Phase 6: Hotspot lifecycle"}
	store := &memStore{readings: readings, hotspots: map[string]domain.Hotspot{}}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	d := hotspot.NewDetector(store, logger, nil, hotspot.WithClock(clockwork.NewFakeClockAt(end)))

	first, err := d.Detect(context.Background(), 24*time.Hour)
	if err != nil {
		p.errorf("first cycle: %v", err)
		return p
	}
	fmt.Printf("  Hotspots: %d created from %d stations\n", first.Created, first.StationsAnalyzed)

	second, err := d.Detect(context.Background(), 24*time.Hour)
	if err != nil {
		p.errorf("second cycle: %v", err)
		return p
	}
	if second.Created != 0 || second.Updated != first.Created {
		p.errorf("second cycle over the same data created %d and updated %d, want 0 and %d",
			second.Created, second.Updated, first.Created)
	}
	if len(store.hotspots) != first.Created {
		p.errorf("store holds %d hotspots after two cycles, want %d", len(store.hotspots), first.Created)
	}

	store.readings = nil
	third, err := d.Detect(context.Background(), 24*time.Hour)
	if err != nil {
		p.errorf("third cycle: %v", err)
		return p
	}
	if third.Resolved != first.Created || third.Active != 0 {
		p.errorf("cycle without readings resolved %d (active %d), want %d (0)", third.Resolved, third.Active, first.Created)
	}
	return p
}
