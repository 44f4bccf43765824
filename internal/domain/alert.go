package domain

import (
	"fmt"
	"time"
)

// Severity orders alert tiers from least to most urgent.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityDanger
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityDanger:
		return "danger"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "danger":
		return SeverityDanger, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// Alert types.
const (
	AlertAQI      = "aqi"
	AlertPM25     = "pm25"
	AlertCO       = "co"
	AlertHeat     = "heat"
	AlertToxicGas = "toxic_gas"
)

// Alert is a threshold-crossing notification.
type Alert struct {
	ID             string     `json:"id"`
	DedupKey       string     `json:"dedup_key"`
	AlertType      string     `json:"alert_type"`
	Severity       string     `json:"severity"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	TriggerValue   float64    `json:"trigger_value"`
	ThresholdValue float64    `json:"threshold_value"`
	Subject        string     `json:"subject"` // zone id, device:<id> or hotspot:<key>
	DeviceID       string     `json:"device_id,omitempty"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	IsActive       bool       `json:"is_active"`
	Acknowledged   bool       `json:"acknowledged"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// DedupKey composes the (type, subject, severity) key alerts are deduplicated on.
func DedupKey(alertType, subject string, severity Severity) string {
	return alertType + ":" + subject + ":" + severity.String()
}
