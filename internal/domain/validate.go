package domain

import (
	"fmt"
	"strconv"
)

// Bound is the physically plausible range of one raw channel. Values outside
// it indicate a hardware fault rather than noise.
type Bound struct {
	Field string
	Lo    float64
	Hi    float64
}

// SensorBounds is checked in order so rejection reasons are stable.
var SensorBounds = []Bound{
	{"raw_dust", 1, 500},           // 0 = no read, >500 = malfunction
	{"raw_mq135", 0, 4095},         // ESP32 12-bit ADC
	{"raw_mq7", 0, 4095},           // ESP32 12-bit ADC
	{"temperature_c", -10, 60},     // BME680 outdoor range
	{"humidity_pct", 5, 100},       // <5 % is sensor dry-out
	{"pressure_hpa", 800, 1100},    // surface pressure
	{"gas_resistance", 1, 1000000}, // BME680 gas sensor Ω
}

// channel returns the raw value for a bound's field.
func (s RawSample) channel(field string) *float64 {
	switch field {
	case "raw_dust":
		return s.Particulate
	case "raw_mq135":
		return s.GasADC1
	case "raw_mq7":
		return s.GasADC2
	case "temperature_c":
		return s.Temperature
	case "humidity_pct":
		return s.Humidity
	case "pressure_hpa":
		return s.Pressure
	case "gas_resistance":
		return s.GasResistance
	default:
		return nil
	}
}

// Validate applies the hard bounds. A missing particulate channel rejects the
// sample outright; other missing channels are tolerated. Every out-of-bounds
// channel is listed in the returned RejectionError.
func Validate(s RawSample) error {
	if s.Particulate == nil {
		return &RejectionError{SampleID: s.ID, Reasons: []string{"raw_dust is missing"}}
	}

	var reasons []string
	for _, b := range SensorBounds {
		v := s.channel(b.Field)
		if v == nil {
			continue
		}
		if *v < b.Lo || *v > b.Hi {
			reasons = append(reasons, fmt.Sprintf("%s=%s out of bounds [%s, %s]",
				b.Field, formatFloat(*v), formatFloat(b.Lo), formatFloat(b.Hi)))
		}
	}
	if len(reasons) > 0 {
		return &RejectionError{SampleID: s.ID, Reasons: reasons}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
