package domain

import "math"

// HeatIndex returns the Rothfusz heat index in °C. Below 27 °C or 40 %RH the
// regression does not apply and the ambient temperature is returned.
// Nil when either input is missing.
func HeatIndex(tempC, rh *float64) *float64 {
	if tempC == nil || rh == nil {
		return nil
	}
	t := *tempC
	h := *rh
	if t < 27 || h < 40 {
		return Float(t)
	}
	f := t*9/5 + 32
	hi := -42.379 + 2.04901523*f + 10.14333127*h -
		0.22475541*f*h - 0.00683783*f*f -
		0.05481717*h*h + 0.00122874*f*f*h +
		0.00085282*f*h*h - 0.00000199*f*f*h*h
	return Float(RoundTo((hi-32)*5/9, 1))
}

// ToxicGasIndex is a 0-100 composite: 60 % CO (0-50 ppm) and 40 % CO2 (0-2000 ppm).
// A missing CO counts as 0 ppm and a missing CO2 as the 400 ppm ambient baseline.
func ToxicGasIndex(co, co2 *float64) float64 {
	coPPM := 0.0
	if co != nil {
		coPPM = *co
	}
	co2PPM := CO2Floor
	if co2 != nil {
		co2PPM = *co2
	}
	coScore := math.Min(coPPM/50*100, 100) * 0.6
	co2Score := math.Min(co2PPM/2000*100, 100) * 0.4
	return RoundTo(math.Min(coScore+co2Score, 100), 1)
}

// EarthRadiusM is the mean Earth radius used for all great-circle distances.
const EarthRadiusM = 6_371_000.0

// Haversine returns the great-circle distance in metres between two coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
