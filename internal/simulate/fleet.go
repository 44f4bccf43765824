// Package simulate generates deterministic raw telemetry for a fleet of
// mobile sensor devices. The output feeds fixtures, the validate command and
// pipeline tests.
package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Config shapes a simulated fleet.
type Config struct {
	Devices          int
	SamplesPerDevice int
	Interval         time.Duration
	Start            time.Time
	Center           domain.Geo
	Seed             uint64
	// SpikeRate and InvalidRate are per-sample probabilities.
	SpikeRate   float64
	InvalidRate float64
}

// DefaultConfig is a 6-device fleet around Bengaluru sampling every 30s for an hour.
func DefaultConfig() Config {
	return Config{
		Devices:          6,
		SamplesPerDevice: 120,
		Interval:         30 * time.Second,
		Start:            time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC),
		Center:           domain.Geo{Lat: 12.9716, Lon: 77.5946},
		Seed:             42,
		SpikeRate:        0.02,
		InvalidRate:      0.02,
	}
}

// profile is one device's pollution baseline.
type profile struct {
	dust, mq135, mq7 float64
	mobile, gps      bool
}

// profileFor cycles through clean, moderate and polluted devices. Device 0 is
// always a stationary polluter so fixtures contain a hotspot.
func profileFor(i int) profile {
	switch i % 3 {
	case 0:
		return profile{dust: 120, mq135: 1400, mq7: 420, mobile: false, gps: true}
	case 1:
		return profile{dust: 35, mq135: 950, mq7: 200, mobile: true, gps: true}
	default:
		return profile{dust: 12, mq135: 700, mq7: 120, mobile: true, gps: i%2 == 0}
	}
}

// Fleet returns the samples of every device, in device then time order.
func Fleet(cfg Config) []domain.RawSample {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	out := make([]domain.RawSample, 0, cfg.Devices*cfg.SamplesPerDevice)

	for d := range cfg.Devices {
		p := profileFor(d)
		deviceID := fmt.Sprintf("esp32-%02d", d+1)
		// Start each device within ~1.5 km of the center.
		lat := cfg.Center.Lat + (rng.Float64()-0.5)*0.027
		lon := cfg.Center.Lon + (rng.Float64()-0.5)*0.027
		heading := rng.Float64() * 2 * math.Pi

		for i := range cfg.SamplesPerDevice {
			if p.mobile {
				// Walking pace with a drifting heading.
				heading += (rng.Float64() - 0.5) * 0.6
				step := 1.4 * cfg.Interval.Seconds() / 111_320
				lat += step * math.Cos(heading)
				lon += step * math.Sin(heading) / math.Cos(lat*math.Pi/180)
			}

			s := domain.RawSample{
				ID:            fmt.Sprintf("%s-%05d", deviceID, i),
				DeviceID:      deviceID,
				Particulate:   domain.Float(noisy(rng, p.dust, 0.15, 1)),
				GasADC1:       domain.Float(math.Round(noisy(rng, p.mq135, 0.08, 1))),
				GasADC2:       domain.Float(math.Round(noisy(rng, p.mq7, 0.1, 1))),
				Temperature:   domain.Float(domain.RoundTo(28+3*math.Sin(float64(i)/40)+rng.NormFloat64()*0.4, 1)),
				Humidity:      domain.Float(domain.RoundTo(clamp(62+rng.NormFloat64()*4, 5, 100), 1)),
				Pressure:      domain.Float(domain.RoundTo(912+rng.NormFloat64()*0.8, 1)),
				GasResistance: domain.Float(math.Round(noisy(rng, 48_000, 0.05, 1))),
				RecordedAt:    cfg.Start.Add(time.Duration(i) * cfg.Interval),
			}
			if p.gps {
				s.Latitude = domain.RoundTo(lat, 6)
				s.Longitude = domain.RoundTo(lon, 6)
			}

			switch r := rng.Float64(); {
			case r < cfg.SpikeRate:
				*s.Particulate = math.Min(*s.Particulate*8, 500)
			case r < cfg.SpikeRate+cfg.InvalidRate:
				corrupt(rng, &s)
			}
			out = append(out, s)
		}
	}
	return out
}

// corrupt breaks one channel the way faulty hardware does.
func corrupt(rng *rand.Rand, s *domain.RawSample) {
	switch rng.IntN(4) {
	case 0:
		s.Particulate = nil
	case 1:
		s.Humidity = domain.Float(2)
	case 2:
		s.Temperature = domain.Float(-40)
	default:
		s.GasADC1 = domain.Float(5000)
	}
}

func noisy(rng *rand.Rand, base, rel, floor float64) float64 {
	return domain.RoundTo(math.Max(floor, base*(1+rng.NormFloat64()*rel)), 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
