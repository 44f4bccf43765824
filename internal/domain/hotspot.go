package domain

import (
	"fmt"
	"math"
	"time"
)

// Hotspot is a persistent, location-keyed record of sustained pollution.
// Records are resolved, never deleted.
type Hotspot struct {
	ID                   string     `json:"id"`
	LocationKey          string     `json:"location_key"`
	Latitude             float64    `json:"latitude"`
	Longitude            float64    `json:"longitude"`
	RadiusM              float64    `json:"radius_m"`
	SeverityLevel        string     `json:"severity_level"`
	PrimaryPollutant     string     `json:"primary_pollutant"`
	PeakValue            float64    `json:"peak_value"`
	PeakAQI              int        `json:"peak_aqi"`
	AvgAQI               float64    `json:"avg_aqi"`
	ContributingReadings int        `json:"contributing_readings"`
	PlaceName            string     `json:"place_name,omitempty"`
	FirstDetectedAt      time.Time  `json:"first_detected_at"`
	LastUpdatedAt        time.Time  `json:"last_updated_at"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	IsActive             bool       `json:"is_active"`
}

// LocationKeyPrecision rounds coordinates to ~100 m cells for hotspot matching.
const LocationKeyPrecision = 3

// LocationKey derives the matching key for a coordinate at the given decimal precision.
func LocationKey(lat, lon float64, precision int) string {
	return fmt.Sprintf("%.*f_%.*f", precision, RoundTo(lat, precision), precision, RoundTo(lon, precision))
}

// RoundTo rounds v half away from zero to the given number of decimals.
func RoundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// HotspotChange describes a lifecycle transition, published to downstream consumers.
type HotspotChange struct {
	Transition string    `json:"transition"` // "created", "updated", "resolved"
	Hotspot    Hotspot   `json:"hotspot"`
	At         time.Time `json:"at"`
}
