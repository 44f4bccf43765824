package domain

import (
	"time"
)

// RawSample is one device transmission as received from the field.
// Optional channels are nil when the device did not report them.
type RawSample struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	Particulate   *float64  `json:"dust"`        // dust sensor spike count
	GasADC1       *float64  `json:"mq135"`       // MQ135 ADC, CO2-equivalent channel
	GasADC2       *float64  `json:"mq7"`         // MQ7 ADC, CO channel
	Temperature   *float64  `json:"temperature"` // °C
	Humidity      *float64  `json:"humidity"`    // %RH
	Pressure      *float64  `json:"pressure"`    // hPa
	GasResistance *float64  `json:"gas"`         // Ω
	Latitude      float64   `json:"latitude"`    // 0,0 means no fix
	Longitude     float64   `json:"longitude"`
	RecordedAt    time.Time `json:"recorded_at"`
	Processed     bool      `json:"processed"`
}

// HasFix reports whether the sample carries a live GPS fix.
func (s RawSample) HasFix() bool {
	return s.Latitude != 0 || s.Longitude != 0
}

// Device holds identity and per-device calibration multipliers.
type Device struct {
	DeviceID        string   `json:"device_id"`
	Name            string   `json:"name,omitempty"`
	DustFactor      float64  `json:"dust_calibration"`
	GasFactor1      float64  `json:"mq135_calibration"`
	GasFactor2      float64  `json:"mq7_calibration"`
	StaticLatitude  *float64 `json:"static_latitude,omitempty"`
	StaticLongitude *float64 `json:"static_longitude,omitempty"`
}

// NewDevice returns a device with neutral calibration, used on first sight of an id.
func NewDevice(deviceID string) Device {
	return Device{
		DeviceID:   deviceID,
		DustFactor: 1.0,
		GasFactor1: 1.0,
		GasFactor2: 1.0,
	}
}

// factor treats an unset (zero or negative) multiplier as neutral.
func factor(f float64) float64 {
	if f <= 0 {
		return 1.0
	}
	return f
}

// Geo is a WGS-84 coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CalibratedReading is the processed form of one accepted RawSample.
type CalibratedReading struct {
	ID          string    `json:"id"`
	RawSampleID string    `json:"raw_telemetry_id"`
	DeviceID    string    `json:"device_id"`
	RecordedAt  time.Time `json:"recorded_at"`

	PM25 *float64 `json:"pm25_ugm3"`
	CO2  *float64 `json:"co2_ppm"`
	CO   *float64 `json:"co_ppm"`

	Temperature   *float64 `json:"temperature_c"`
	Humidity      *float64 `json:"humidity_pct"`
	Pressure      *float64 `json:"pressure_hpa"`
	GasResistance *float64 `json:"gas_resistance"`

	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	GPSFallbackUsed bool    `json:"gps_fallback_used"`

	AQI             int      `json:"aqi_value"`
	AQICategory     string   `json:"aqi_category"`
	HeatIndex       *float64 `json:"heat_index_c"`
	ToxicGasIndex   float64  `json:"toxic_gas_index"`
	RespiratoryRisk string   `json:"respiratory_risk_label"`

	SpeedKmh  float64 `json:"speed_kmh"`
	DistanceM float64 `json:"distance_moved_m"`
}

// Field returns the named numeric field of a reading, or false when it is absent.
// Names follow the JSON tags used by the map API.
func (r CalibratedReading) Field(name string) (float64, bool) {
	switch name {
	case FieldAQI:
		return float64(r.AQI), true
	case FieldPM25:
		return deref(r.PM25)
	case FieldCO:
		return deref(r.CO)
	case FieldCO2:
		return deref(r.CO2)
	case FieldTemperature:
		return deref(r.Temperature)
	case FieldHumidity:
		return deref(r.Humidity)
	case FieldPressure:
		return deref(r.Pressure)
	case FieldHeatIndex:
		return deref(r.HeatIndex)
	case FieldToxicGas:
		return r.ToxicGasIndex, true
	default:
		return 0, false
	}
}

// Numeric reading fields, named after their JSON tags.
const (
	FieldAQI         = "aqi_value"
	FieldPM25        = "pm25_ugm3"
	FieldCO          = "co_ppm"
	FieldCO2         = "co2_ppm"
	FieldTemperature = "temperature_c"
	FieldHumidity    = "humidity_pct"
	FieldPressure    = "pressure_hpa"
	FieldHeatIndex   = "heat_index_c"
	FieldToxicGas    = "toxic_gas_index"
)

// ValidField reports whether name is a field Field can extract.
func ValidField(name string) bool {
	switch name {
	case FieldAQI, FieldPM25, FieldCO, FieldCO2, FieldTemperature, FieldHumidity, FieldPressure, FieldHeatIndex, FieldToxicGas:
		return true
	}
	return false
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Float returns a pointer to v. Handy for optional sensor channels.
func Float(v float64) *float64 {
	return &v
}
