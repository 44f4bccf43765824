package store

import (
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

type deviceRow struct {
	DeviceID        string `gorm:"primaryKey;size:64"`
	Name            string
	DustFactor      float64 `gorm:"default:1"`
	GasFactor1      float64 `gorm:"column:mq135_factor;default:1"`
	GasFactor2      float64 `gorm:"column:mq7_factor;default:1"`
	StaticLatitude  *float64
	StaticLongitude *float64
	CreatedAt       time.Time
}

func (deviceRow) TableName() string { return "devices" }

type rawSampleRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	DeviceID      string `gorm:"size:64;index"`
	Particulate   *float64
	GasADC1       *float64 `gorm:"column:mq135"`
	GasADC2       *float64 `gorm:"column:mq7"`
	Temperature   *float64
	Humidity      *float64
	Pressure      *float64
	GasResistance *float64
	Latitude      float64
	Longitude     float64
	RecordedAt    time.Time `gorm:"index:idx_raw_pending,priority:2"`
	Processed     bool      `gorm:"index:idx_raw_pending,priority:1"`
	CreatedAt     time.Time
}

func (rawSampleRow) TableName() string { return "raw_samples" }

type readingRow struct {
	ID              string    `gorm:"primaryKey;size:36"`
	RawSampleID     string    `gorm:"size:36;uniqueIndex"`
	DeviceID        string    `gorm:"size:64;index:idx_reading_device_time,priority:1"`
	RecordedAt      time.Time `gorm:"index:idx_reading_device_time,priority:2;index"`
	PM25            *float64  `gorm:"column:pm25_ugm3"`
	CO2             *float64  `gorm:"column:co2_ppm"`
	CO              *float64  `gorm:"column:co_ppm"`
	Temperature     *float64
	Humidity        *float64
	Pressure        *float64
	GasResistance   *float64
	Latitude        float64
	Longitude       float64
	GPSFallbackUsed bool `gorm:"column:gps_fallback_used"`
	AQI             int  `gorm:"column:aqi_value"`
	AQICategory     string
	HeatIndex       *float64
	ToxicGasIndex   float64
	RespiratoryRisk string
	SpeedKmh        float64
	DistanceM       float64
}

func (readingRow) TableName() string { return "calibrated_readings" }

type hotspotRow struct {
	ID                   string `gorm:"primaryKey;size:36"`
	LocationKey          string `gorm:"size:32;index"`
	Latitude             float64
	Longitude            float64
	RadiusM              float64
	SeverityLevel        string
	PrimaryPollutant     string
	PeakValue            float64
	PeakAQI              int `gorm:"column:peak_aqi"`
	AvgAQI               float64
	ContributingReadings int
	PlaceName            string
	FirstDetectedAt      time.Time
	LastUpdatedAt        time.Time
	ResolvedAt           *time.Time
	IsActive             bool `gorm:"index"`
}

func (hotspotRow) TableName() string { return "hotspots" }

type alertRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	DedupKey       string `gorm:"size:160;index"`
	AlertType      string `gorm:"size:32"`
	Severity       string `gorm:"size:16"`
	Title          string
	Message        string
	TriggerValue   float64
	ThresholdValue float64
	Subject        string
	DeviceID       string
	Latitude       float64
	Longitude      float64
	IsActive       bool `gorm:"index"`
	Acknowledged   bool
	CreatedAt      time.Time `gorm:"index"`
	ResolvedAt     *time.Time
}

func (alertRow) TableName() string { return "alerts" }

func (d deviceRow) toDomain() domain.Device {
	return domain.Device{
		DeviceID:        d.DeviceID,
		Name:            d.Name,
		DustFactor:      d.DustFactor,
		GasFactor1:      d.GasFactor1,
		GasFactor2:      d.GasFactor2,
		StaticLatitude:  d.StaticLatitude,
		StaticLongitude: d.StaticLongitude,
	}
}

func deviceFromDomain(d domain.Device) deviceRow {
	return deviceRow{
		DeviceID:        d.DeviceID,
		Name:            d.Name,
		DustFactor:      d.DustFactor,
		GasFactor1:      d.GasFactor1,
		GasFactor2:      d.GasFactor2,
		StaticLatitude:  d.StaticLatitude,
		StaticLongitude: d.StaticLongitude,
	}
}

func (s rawSampleRow) toDomain() domain.RawSample {
	return domain.RawSample{
		ID:            s.ID,
		DeviceID:      s.DeviceID,
		Particulate:   s.Particulate,
		GasADC1:       s.GasADC1,
		GasADC2:       s.GasADC2,
		Temperature:   s.Temperature,
		Humidity:      s.Humidity,
		Pressure:      s.Pressure,
		GasResistance: s.GasResistance,
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		RecordedAt:    s.RecordedAt.UTC(),
		Processed:     s.Processed,
	}
}

func rawSampleFromDomain(s domain.RawSample) rawSampleRow {
	return rawSampleRow{
		ID:            s.ID,
		DeviceID:      s.DeviceID,
		Particulate:   s.Particulate,
		GasADC1:       s.GasADC1,
		GasADC2:       s.GasADC2,
		Temperature:   s.Temperature,
		Humidity:      s.Humidity,
		Pressure:      s.Pressure,
		GasResistance: s.GasResistance,
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		RecordedAt:    s.RecordedAt.UTC(),
		Processed:     s.Processed,
	}
}

func (r readingRow) toDomain() domain.CalibratedReading {
	return domain.CalibratedReading{
		ID:              r.ID,
		RawSampleID:     r.RawSampleID,
		DeviceID:        r.DeviceID,
		RecordedAt:      r.RecordedAt.UTC(),
		PM25:            r.PM25,
		CO2:             r.CO2,
		CO:              r.CO,
		Temperature:     r.Temperature,
		Humidity:        r.Humidity,
		Pressure:        r.Pressure,
		GasResistance:   r.GasResistance,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		GPSFallbackUsed: r.GPSFallbackUsed,
		AQI:             r.AQI,
		AQICategory:     r.AQICategory,
		HeatIndex:       r.HeatIndex,
		ToxicGasIndex:   r.ToxicGasIndex,
		RespiratoryRisk: r.RespiratoryRisk,
		SpeedKmh:        r.SpeedKmh,
		DistanceM:       r.DistanceM,
	}
}

func readingFromDomain(r domain.CalibratedReading) readingRow {
	return readingRow{
		ID:              r.ID,
		RawSampleID:     r.RawSampleID,
		DeviceID:        r.DeviceID,
		RecordedAt:      r.RecordedAt.UTC(),
		PM25:            r.PM25,
		CO2:             r.CO2,
		CO:              r.CO,
		Temperature:     r.Temperature,
		Humidity:        r.Humidity,
		Pressure:        r.Pressure,
		GasResistance:   r.GasResistance,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		GPSFallbackUsed: r.GPSFallbackUsed,
		AQI:             r.AQI,
		AQICategory:     r.AQICategory,
		HeatIndex:       r.HeatIndex,
		ToxicGasIndex:   r.ToxicGasIndex,
		RespiratoryRisk: r.RespiratoryRisk,
		SpeedKmh:        r.SpeedKmh,
		DistanceM:       r.DistanceM,
	}
}

func (h hotspotRow) toDomain() domain.Hotspot {
	return domain.Hotspot{
		ID:                   h.ID,
		LocationKey:          h.LocationKey,
		Latitude:             h.Latitude,
		Longitude:            h.Longitude,
		RadiusM:              h.RadiusM,
		SeverityLevel:        h.SeverityLevel,
		PrimaryPollutant:     h.PrimaryPollutant,
		PeakValue:            h.PeakValue,
		PeakAQI:              h.PeakAQI,
		AvgAQI:               h.AvgAQI,
		ContributingReadings: h.ContributingReadings,
		PlaceName:            h.PlaceName,
		FirstDetectedAt:      h.FirstDetectedAt.UTC(),
		LastUpdatedAt:        h.LastUpdatedAt.UTC(),
		ResolvedAt:           utcPtr(h.ResolvedAt),
		IsActive:             h.IsActive,
	}
}

func hotspotFromDomain(h domain.Hotspot) hotspotRow {
	return hotspotRow{
		ID:                   h.ID,
		LocationKey:          h.LocationKey,
		Latitude:             h.Latitude,
		Longitude:            h.Longitude,
		RadiusM:              h.RadiusM,
		SeverityLevel:        h.SeverityLevel,
		PrimaryPollutant:     h.PrimaryPollutant,
		PeakValue:            h.PeakValue,
		PeakAQI:              h.PeakAQI,
		AvgAQI:               h.AvgAQI,
		ContributingReadings: h.ContributingReadings,
		PlaceName:            h.PlaceName,
		FirstDetectedAt:      h.FirstDetectedAt.UTC(),
		LastUpdatedAt:        h.LastUpdatedAt.UTC(),
		ResolvedAt:           utcPtr(h.ResolvedAt),
		IsActive:             h.IsActive,
	}
}

func (a alertRow) toDomain() domain.Alert {
	return domain.Alert{
		ID:             a.ID,
		DedupKey:       a.DedupKey,
		AlertType:      a.AlertType,
		Severity:       a.Severity,
		Title:          a.Title,
		Message:        a.Message,
		TriggerValue:   a.TriggerValue,
		ThresholdValue: a.ThresholdValue,
		Subject:        a.Subject,
		DeviceID:       a.DeviceID,
		Latitude:       a.Latitude,
		Longitude:      a.Longitude,
		IsActive:       a.IsActive,
		Acknowledged:   a.Acknowledged,
		CreatedAt:      a.CreatedAt.UTC(),
		ResolvedAt:     utcPtr(a.ResolvedAt),
	}
}

func alertFromDomain(a domain.Alert) alertRow {
	return alertRow{
		ID:             a.ID,
		DedupKey:       a.DedupKey,
		AlertType:      a.AlertType,
		Severity:       a.Severity,
		Title:          a.Title,
		Message:        a.Message,
		TriggerValue:   a.TriggerValue,
		ThresholdValue: a.ThresholdValue,
		Subject:        a.Subject,
		DeviceID:       a.DeviceID,
		Latitude:       a.Latitude,
		Longitude:      a.Longitude,
		IsActive:       a.IsActive,
		Acknowledged:   a.Acknowledged,
		CreatedAt:      a.CreatedAt.UTC(),
		ResolvedAt:     utcPtr(a.ResolvedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
