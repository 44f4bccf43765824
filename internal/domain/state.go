package domain

import (
	"sync"
	"time"
)

// Fix is the last accepted position of a device.
type Fix struct {
	Lat float64
	Lon float64
	At  time.Time
}

// replayWindow is how many recent readings a device remembers by sample id.
// It is larger than OutlierWindow so a sample replayed while its value is
// still in the window cannot be counted twice.
const replayWindow = 64

// DeviceState is the advisory in-memory state of one device: its outlier
// window, last fix and recently produced readings. Lost on restart; it
// re-establishes from new samples.
type DeviceState struct {
	mu          sync.Mutex
	particulate *RollingWindow
	lastFix     *Fix
	recent      map[string]CalibratedReading
	order       []string
}

// StateStore hands out per-device state. Callers hold DeviceState.mu for the
// duration of one sample so two workers never interleave on the same device.
type StateStore struct {
	mu      sync.Mutex
	devices map[string]*DeviceState
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{devices: make(map[string]*DeviceState)}
}

// Lock returns the device's state locked; call the returned func to release it.
func (s *StateStore) Lock(deviceID string) (*DeviceState, func()) {
	s.mu.Lock()
	ds, ok := s.devices[deviceID]
	if !ok {
		ds = &DeviceState{
			particulate: NewRollingWindow(OutlierWindow),
			recent:      make(map[string]CalibratedReading, replayWindow),
		}
		s.devices[deviceID] = ds
	}
	s.mu.Unlock()

	ds.mu.Lock()
	return ds, ds.mu.Unlock
}

// Len returns the number of tracked devices.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// Move records fix as the device's latest position and returns the distance
// in metres and speed in km/h from the previous one. Both are zero without a
// previous fix or when elapsed time is not positive.
func (ds *DeviceState) Move(fix Fix) (distanceM, speedKmh float64) {
	prev := ds.lastFix
	ds.lastFix = &fix
	if prev == nil {
		return 0, 0
	}
	distanceM = Haversine(prev.Lat, prev.Lon, fix.Lat, fix.Lon)
	elapsed := fix.At.Sub(prev.At).Seconds()
	if elapsed <= 0 {
		return RoundTo(distanceM, 2), 0
	}
	return RoundTo(distanceM, 2), RoundTo(distanceM/elapsed*3.6, 2)
}

// replay returns the reading already produced for a sample id.
func (ds *DeviceState) replay(sampleID string) (CalibratedReading, bool) {
	if sampleID == "" {
		return CalibratedReading{}, false
	}
	r, ok := ds.recent[sampleID]
	return r, ok
}

// remember records r under its sample id, evicting the oldest entry when full.
func (ds *DeviceState) remember(r CalibratedReading) {
	if r.RawSampleID == "" {
		return
	}
	if len(ds.order) == replayWindow {
		delete(ds.recent, ds.order[0])
		ds.order = ds.order[1:]
	}
	ds.recent[r.RawSampleID] = r
	ds.order = append(ds.order, r.RawSampleID)
}
