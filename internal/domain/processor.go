package domain

import (
	"github.com/google/uuid"
)

// readingNamespace derives calibrated reading ids from raw sample ids, so
// reprocessing a sample yields the same id.
var readingNamespace = uuid.MustParse("6f1c2f0e-8a43-4c8e-9d1b-4a3e6b2c7d10")

// Processor validates and calibrates raw samples. Per-device state is injected
// so concurrent workers share one consistent view of each device.
type Processor struct {
	state    *StateStore
	fallback Geo
}

// NewProcessor creates a processor. fallback is used for samples without a
// GPS fix from devices that have no static location.
func NewProcessor(state *StateStore, fallback Geo) *Processor {
	if state == nil {
		state = NewStateStore()
	}
	return &Processor{state: state, fallback: fallback}
}

// Process turns one raw sample into a calibrated reading, or returns a
// *RejectionError when the sample fails validation. Rejected samples leave
// device state untouched. A sample the device state still remembers returns
// its original reading and does not advance the outlier window or last fix.
func (p *Processor) Process(raw RawSample, dev Device) (CalibratedReading, error) {
	if err := Validate(raw); err != nil {
		return CalibratedReading{}, err
	}

	ds, unlock := p.state.Lock(raw.DeviceID)
	defer unlock()

	if r, ok := ds.replay(raw.ID); ok {
		return r, nil
	}

	recordedAt := raw.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = clock.Now()
	}
	recordedAt = recordedAt.UTC()

	r := CalibratedReading{
		ID:            uuid.NewSHA1(readingNamespace, []byte(raw.ID)).String(),
		RawSampleID:   raw.ID,
		DeviceID:      raw.DeviceID,
		RecordedAt:    recordedAt,
		Temperature:   raw.Temperature,
		Humidity:      raw.Humidity,
		Pressure:      raw.Pressure,
		GasResistance: raw.GasResistance,
	}

	clipped := ds.particulate.Clip(*raw.Particulate)
	r.PM25 = Float(CalibratePM25(clipped, dev.DustFactor))
	if raw.GasADC1 != nil {
		r.CO2 = Float(CalibrateCO2(*raw.GasADC1, dev.GasFactor1))
	}
	if raw.GasADC2 != nil {
		r.CO = Float(CalibrateCO(*raw.GasADC2, dev.GasFactor2))
	}

	r.Latitude, r.Longitude, r.GPSFallbackUsed = p.resolveLocation(raw, dev)

	r.AQI, r.AQICategory = CalculateAQI(r.PM25, r.CO)
	r.HeatIndex = HeatIndex(r.Temperature, r.Humidity)
	r.ToxicGasIndex = ToxicGasIndex(r.CO, r.CO2)
	r.RespiratoryRisk = RespiratoryRisk(r.PM25)

	r.DistanceM, r.SpeedKmh = ds.Move(Fix{Lat: r.Latitude, Lon: r.Longitude, At: recordedAt})
	ds.remember(r)
	return r, nil
}

// Recall returns the reading this processor already produced for raw, if the
// device state still remembers it.
func (p *Processor) Recall(raw RawSample) (CalibratedReading, bool) {
	ds, unlock := p.state.Lock(raw.DeviceID)
	defer unlock()
	return ds.replay(raw.ID)
}

// resolveLocation substitutes the device's static location, then the global
// default, when the sample reports exactly (0,0).
func (p *Processor) resolveLocation(raw RawSample, dev Device) (lat, lon float64, fallback bool) {
	if raw.HasFix() {
		return raw.Latitude, raw.Longitude, false
	}
	if dev.StaticLatitude != nil && dev.StaticLongitude != nil {
		return *dev.StaticLatitude, *dev.StaticLongitude, true
	}
	return p.fallback.Lat, p.fallback.Lon, true
}
