package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/simulate"
)

func TestProcessBatch_SimulatedFleet(t *testing.T) {
	cfg := simulate.DefaultConfig()
	samples := simulate.Fleet(cfg)

	wantDropped := 0
	for _, s := range samples {
		if domain.Validate(s) != nil {
			wantDropped++
		}
	}

	store := newMemStore()
	store.samples = append(store.samples, samples...)
	p, _ := newTestPipeline(store, 250)

	res, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, wantDropped, res.Dropped)
	assert.Equal(t, len(samples)-wantDropped, res.Processed)
	assert.Zero(t, store.pending())
	require.Len(t, store.readings, res.Processed)

	for _, r := range store.readings {
		require.NotNil(t, r.PM25)
		assert.GreaterOrEqual(t, *r.PM25, 0.0)
		assert.GreaterOrEqual(t, r.AQI, 0)
		assert.LessOrEqual(t, r.AQI, 500)
		assert.Equal(t, domain.Category(r.AQI), r.AQICategory)
		assert.GreaterOrEqual(t, r.SpeedKmh, 0.0)
		if r.CO2 != nil {
			assert.GreaterOrEqual(t, *r.CO2, domain.CO2Floor)
			assert.LessOrEqual(t, *r.CO2, domain.CO2Ceiling)
		}
	}

	// Device without GPS falls back to the configured coordinate.
	for _, r := range store.readings {
		if r.DeviceID == "esp32-06" {
			assert.True(t, r.GPSFallbackUsed)
			assert.Equal(t, 12.9716, r.Latitude)
		}
	}
}
