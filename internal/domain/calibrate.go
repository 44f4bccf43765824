package domain

import "math"

// Calibration constants for the field hardware.
const (
	// DustToPM25 converts the optical dust sensor count to µg/m³.
	DustToPM25 = 1.5

	// MQ135 CO2-equivalent power-law curve, ADC reference 900 at ambient air.
	CO2CurveA  = 116.6
	CO2CurveB  = -2.769
	CO2RefADC  = 900.0
	CO2Floor   = 400.0
	CO2Ceiling = 5000.0

	// MQ7 CO power-law curve, ADC reference 590 at 100 ppm.
	COCurveA  = 99.042
	COCurveB  = -1.518
	CORefADC  = 590.0
	COFloor   = 0.0
	COCeiling = 1000.0
)

// CalibratePM25 converts a (clipped) dust count to PM2.5 in µg/m³.
func CalibratePM25(count, deviceFactor float64) float64 {
	return RoundTo(count*DustToPM25*factor(deviceFactor), 2)
}

// CalibrateCO2 converts an MQ135 ADC reading to CO2-equivalent ppm, clamped to [400, 5000].
func CalibrateCO2(adc, deviceFactor float64) float64 {
	return powerLaw(adc, CO2RefADC, CO2CurveA, CO2CurveB, deviceFactor, CO2Floor, CO2Ceiling)
}

// CalibrateCO converts an MQ7 ADC reading to CO ppm, clamped to [0, 1000].
func CalibrateCO(adc, deviceFactor float64) float64 {
	return powerLaw(adc, CORefADC, COCurveA, COCurveB, deviceFactor, COFloor, COCeiling)
}

// powerLaw evaluates a·(adc/ref)^b·factor. A non-positive ratio has no
// physical meaning and maps to the floor.
func powerLaw(adc, ref, a, b, deviceFactor, lo, hi float64) float64 {
	ratio := adc / ref
	if ratio <= 0 || math.IsNaN(ratio) {
		return lo
	}
	v := a * math.Pow(ratio, b) * factor(deviceFactor)
	return RoundTo(math.Min(math.Max(v, lo), hi), 2)
}
