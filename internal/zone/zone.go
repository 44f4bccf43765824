// Package zone buckets calibrated readings into rounded lat/lon grid cells
// ("bubble zones") for map rendering. Zones are recomputed on every call and
// never persisted.
package zone

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Precision bounds. Precision 2 gives ~1.1 km cells, precision 5 ~11 m.
const (
	MinPrecision     = 1
	MaxPrecision     = 5
	DefaultPrecision = 3
)

// ScoreType selects the formula behind a zone's primary score.
type ScoreType string

// Score types.
const (
	ScoreOverall     ScoreType = "overall"
	ScoreAQI         ScoreType = "aqi"
	ScorePM25        ScoreType = "pm25"
	ScoreCO          ScoreType = "co"
	ScoreTemperature ScoreType = "temperature"
	ScoreToxicGas    ScoreType = "toxic_gas"
	ScoreHumidity    ScoreType = "humidity"
)

// ParseScoreType validates a score type name. An empty name means overall.
func ParseScoreType(s string) (ScoreType, error) {
	switch st := ScoreType(s); st {
	case "":
		return ScoreOverall, nil
	case ScoreOverall, ScoreAQI, ScorePM25, ScoreCO, ScoreTemperature, ScoreToxicGas, ScoreHumidity:
		return st, nil
	default:
		return "", fmt.Errorf("unknown score type %q", s)
	}
}

// Zone colors by AQI category; softer than the EPA palette for translucent bubbles.
var zoneColors = map[string]string{
	domain.CategoryGood:          "#038a37",
	domain.CategoryModerate:      "#f5c542",
	domain.CategorySensitive:     "#e6954e",
	domain.CategoryUnhealthy:     "#ff6b20",
	domain.CategoryVeryUnhealthy: "#ff4c15",
	domain.CategoryHazardous:     "#ff2f20",
}

// Zone is one grid cell's aggregate. Optional means are nil when no member
// reported the channel.
type Zone struct {
	ID      string  `json:"zone_id"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lng"`
	RadiusM float64 `json:"radius_m"`
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`

	PrimaryScore float64   `json:"primary_score"`
	ScoreType    ScoreType `json:"score_type"`
	AQICategory  string    `json:"aqi_category"`

	AvgAQI          *float64 `json:"avg_aqi"`
	MaxAQI          int      `json:"max_aqi"`
	AvgPM25         *float64 `json:"avg_pm25"`
	MaxPM25         float64  `json:"max_pm25"`
	AvgCO           *float64 `json:"avg_co"`
	MaxCO           float64  `json:"max_co"`
	AvgCO2          *float64 `json:"avg_co2"`
	AvgTemperature  *float64 `json:"avg_temperature"`
	AvgHumidity     *float64 `json:"avg_humidity"`
	AvgPressure     *float64 `json:"avg_pressure"`
	AvgHeatIndex    *float64 `json:"avg_heat_index"`
	AvgToxicGas     *float64 `json:"avg_toxic_gas"`
	RespiratoryRisk string   `json:"respiratory_risk"`

	ReadingCount int       `json:"reading_count"`
	Latest       time.Time `json:"latest"`
	Oldest       time.Time `json:"oldest"`
}

// Key returns the grid-cell key of a coordinate at precision.
func Key(lat, lon float64, precision int) string {
	return strconv.FormatFloat(domain.RoundTo(lat, precision), 'f', -1, 64) + "," +
		strconv.FormatFloat(domain.RoundTo(lon, precision), 'f', -1, 64)
}

// Cluster partitions readings into grid cells and returns the zones ordered
// by primary score, worst first; equal scores are ordered by zone id.
// Precision is clamped to [MinPrecision, MaxPrecision]; an unknown score
// type falls back to overall.
func Cluster(readings []domain.CalibratedReading, precision int, scoreType ScoreType) []Zone {
	precision = min(max(precision, MinPrecision), MaxPrecision)
	if _, err := ParseScoreType(string(scoreType)); err != nil || scoreType == "" {
		scoreType = ScoreOverall
	}

	buckets := make(map[string][]domain.CalibratedReading)
	for _, r := range readings {
		k := Key(r.Latitude, r.Longitude, precision)
		buckets[k] = append(buckets[k], r)
	}

	zones := make([]Zone, 0, len(buckets))
	for k, members := range buckets {
		zones = append(zones, build(k, members, scoreType))
	}
	sort.Slice(zones, func(i, j int) bool {
		if zones[i].PrimaryScore != zones[j].PrimaryScore {
			return zones[i].PrimaryScore > zones[j].PrimaryScore
		}
		return zones[i].ID < zones[j].ID
	})
	return zones
}

func build(key string, members []domain.CalibratedReading, scoreType ScoreType) Zone {
	n := len(members)
	z := Zone{ID: key, ScoreType: scoreType, ReadingCount: n}

	lats := make([]float64, n)
	lons := make([]float64, n)
	worstRisk := 0
	for i, r := range members {
		lats[i] = r.Latitude
		lons[i] = r.Longitude
		z.MaxAQI = max(z.MaxAQI, r.AQI)
		if r.PM25 != nil {
			z.MaxPM25 = math.Max(z.MaxPM25, *r.PM25)
		}
		if r.CO != nil {
			z.MaxCO = math.Max(z.MaxCO, *r.CO)
		}
		worstRisk = max(worstRisk, domain.RespiratoryRiskRank(r.RespiratoryRisk))
		if z.Latest.IsZero() || r.RecordedAt.After(z.Latest) {
			z.Latest = r.RecordedAt
		}
		if z.Oldest.IsZero() || r.RecordedAt.Before(z.Oldest) {
			z.Oldest = r.RecordedAt
		}
	}
	z.Lat = stat.Mean(lats, nil)
	z.Lon = stat.Mean(lons, nil)
	z.RespiratoryRisk = domain.RespiratoryRiskLevels[worstRisk]

	z.AvgAQI = mean(members, domain.FieldAQI)
	z.AvgPM25 = mean(members, domain.FieldPM25)
	z.AvgCO = mean(members, domain.FieldCO)
	z.AvgCO2 = mean(members, domain.FieldCO2)
	z.AvgTemperature = mean(members, domain.FieldTemperature)
	z.AvgHumidity = mean(members, domain.FieldHumidity)
	z.AvgPressure = mean(members, domain.FieldPressure)
	z.AvgHeatIndex = mean(members, domain.FieldHeatIndex)
	z.AvgToxicGas = mean(members, domain.FieldToxicGas)

	z.PrimaryScore = domain.RoundTo(score(z, scoreType), 1)
	avgAQI := 0.0
	if z.AvgAQI != nil {
		avgAQI = *z.AvgAQI
	}
	z.AQICategory = domain.BandFor(avgAQI).Category
	z.Color = zoneColors[z.AQICategory]

	// Bubbles grow with confidence (reading count) and severity (score).
	baseRadius := 80 + float64(min(n, 200))*0.5
	z.RadiusM = domain.RoundTo(baseRadius*(0.5+z.PrimaryScore/100), 1)

	confidence := math.Min(float64(n)/50, 1)
	z.Opacity = math.Min(domain.RoundTo(0.15+0.55*z.PrimaryScore/100+0.15*confidence, 2), 0.85)
	return z
}

// score evaluates the selected formula, clamped to [0, 100].
func score(z Zone, scoreType ScoreType) float64 {
	v := func(p *float64, def float64) float64 {
		if p == nil {
			return def
		}
		return *p
	}

	var s float64
	switch scoreType {
	case ScoreAQI:
		s = v(z.AvgAQI, 0) / 5
	case ScorePM25:
		s = v(z.AvgPM25, 0) / 5
	case ScoreCO:
		s = v(z.AvgCO, 0) / 0.5
	case ScoreTemperature:
		s = math.Max(0, v(z.AvgHeatIndex, 20)-20) / 0.3
	case ScoreToxicGas:
		s = v(z.AvgToxicGas, 0)
	case ScoreHumidity:
		s = v(z.AvgHumidity, 0)
	default:
		s = v(z.AvgAQI, 0)/500*60 +
			v(z.AvgToxicGas, 0)/100*25 +
			math.Max(0, (v(z.AvgHeatIndex, 25)-25)/25)*15
	}
	return math.Min(math.Max(s, 0), 100)
}

// mean averages a field over the members that report it, rounded to 2 decimals.
func mean(members []domain.CalibratedReading, field string) *float64 {
	vals := make([]float64, 0, len(members))
	for _, r := range members {
		if v, ok := r.Field(field); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	return domain.Float(domain.RoundTo(stat.Mean(vals, nil), 2))
}
