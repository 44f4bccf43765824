// Command genmock writes a deterministic JSON fixture of raw telemetry for a
// simulated device fleet. It runs the samples through the real processor so
// the printed stats match what the pipeline will produce.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -devices 6 -samples 120 -seed 42 \
//	  -out data/mock/raw_samples.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/simulate"
	"github.com/couchcryptid/air-quality-etl/internal/zone"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	def := simulate.DefaultConfig()
	devices := flag.Int("devices", def.Devices, "number of simulated devices")
	samples := flag.Int("samples", def.SamplesPerDevice, "samples per device")
	interval := flag.Duration("interval", def.Interval, "time between samples")
	seed := flag.Uint64("seed", def.Seed, "random seed")
	out := flag.String("out", "", "output path for the raw sample fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	cfg := def
	cfg.Devices, cfg.SamplesPerDevice, cfg.Interval, cfg.Seed = *devices, *samples, *interval, *seed
	fleet := simulate.Fleet(cfg)

	if err := writeJSON(*out, fleet); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d samples from %d devices: %s", len(fleet), cfg.Devices, *out)

	// Fixed clock so samples without timestamps get reproducible ones.
	domain.SetClock(clockwork.NewFakeClockAt(cfg.Start))
	defer domain.SetClock(nil)

	printStats(fleet, cfg.Center)
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// statsResult holds aggregated counts for printStats reporting.
type statsResult struct {
	accepted       int
	rejected       int
	fallback       int
	categoryCounts map[string]int
	reasonCounts   map[string]int
	maxAQI         int
	maxAQIDevice   string
}

func collectStats(fleet []domain.RawSample, fallback domain.Geo) (statsResult, []domain.CalibratedReading) {
	s := statsResult{categoryCounts: map[string]int{}, reasonCounts: map[string]int{}}
	proc := domain.NewProcessor(nil, fallback)
	readings := make([]domain.CalibratedReading, 0, len(fleet))

	for _, raw := range fleet {
		r, err := proc.Process(raw, domain.NewDevice(raw.DeviceID))
		var rej *domain.RejectionError
		if errors.As(err, &rej) {
			s.rejected++
			for _, reason := range rej.Reasons {
				s.reasonCounts[reason]++
			}
			continue
		}
		s.accepted++
		s.categoryCounts[r.AQICategory]++
		if r.GPSFallbackUsed {
			s.fallback++
		}
		if r.AQI > s.maxAQI {
			s.maxAQI, s.maxAQIDevice = r.AQI, r.DeviceID
		}
		readings = append(readings, r)
	}
	return s, readings
}

func printStats(fleet []domain.RawSample, fallback domain.Geo) {
	stats, readings := collectStats(fleet, fallback)

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d, accepted=%d, rejected=%d, gps fallback=%d\n",
		len(fleet), stats.accepted, stats.rejected, stats.fallback)
	fmt.Printf("Max AQI: %d (%s)\n", stats.maxAQI, stats.maxAQIDevice)

	fmt.Print("By category:")
	for _, b := range domain.AQIBands {
		fmt.Printf(" %s=%d", b.Category, stats.categoryCounts[b.Category])
	}
	fmt.Println()

	reasons := make([]string, 0, len(stats.reasonCounts))
	for r := range stats.reasonCounts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	fmt.Printf("\nRejection reasons (%d):\n", len(reasons))
	for _, r := range reasons {
		fmt.Printf("  %3d  %s\n", stats.reasonCounts[r], r)
	}

	zones := zone.Cluster(readings, zone.DefaultPrecision, zone.ScoreOverall)
	fmt.Printf("\nZones at precision %d: %d\n", zone.DefaultPrecision, len(zones))
	for _, z := range zones[:min(5, len(zones))] {
		fmt.Printf("  %-16s score=%-6g readings=%-4d category=%s\n", z.ID, z.PrimaryScore, z.ReadingCount, z.AQICategory)
	}
}
