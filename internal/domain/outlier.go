package domain

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// OutlierWindow is the number of recent values kept per device channel.
	OutlierWindow = 50
	// OutlierMinSamples is the history length at which clipping starts.
	OutlierMinSamples = 10
)

// RollingWindow is a bounded FIFO of recent values for one device channel.
// It is not safe for concurrent use; DeviceState serializes access.
type RollingWindow struct {
	values []float64
	size   int
}

// NewRollingWindow returns an empty window holding at most size values.
func NewRollingWindow(size int) *RollingWindow {
	if size <= 0 {
		size = OutlierWindow
	}
	return &RollingWindow{values: make([]float64, 0, size), size: size}
}

// Len returns the number of buffered values.
func (w *RollingWindow) Len() int { return len(w.values) }

// Fence returns the IQR fence over the buffered values. ok is false until
// OutlierMinSamples values are buffered.
func (w *RollingWindow) Fence() (lo, hi float64, ok bool) {
	if len(w.values) < OutlierMinSamples {
		return 0, 0, false
	}
	sorted := make([]float64, len(w.values))
	copy(sorted, w.values)
	sort.Float64s(sorted)

	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr, true
}

// Clip bounds v to the current fence, records the result and returns it.
// The fence is computed before v joins the window.
func (w *RollingWindow) Clip(v float64) float64 {
	if lo, hi, ok := w.Fence(); ok {
		switch {
		case v < lo:
			v = lo
		case v > hi:
			v = hi
		}
	}
	w.push(v)
	return v
}

func (w *RollingWindow) push(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, v)
}
