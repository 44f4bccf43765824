package interpolate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

var genTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestBuilder() *Builder {
	return NewBuilder(Options{Resolution: 10}, clockwork.NewFakeClockAt(genTime), nil)
}

func cluster() []domain.CalibratedReading {
	return []domain.CalibratedReading{
		reading(12.9700, 77.5900, 30),
		reading(12.9710, 77.5905, 120),
		reading(12.9705, 77.5912, 320),
	}
}

func TestHeatmap(t *testing.T) {
	fc, err := newTestBuilder().Heatmap(cluster(), domain.FieldAQI)
	require.NoError(t, err)

	assert.Equal(t, "FeatureCollection", fc.Type)
	require.NotEmpty(t, fc.Features)
	assert.False(t, fc.InsufficientData())
	assert.Equal(t, len(fc.Features), fc.Metadata["cell_count"])
	assert.Equal(t, 3, fc.Metadata["point_count"])
	assert.Equal(t, []float64{30, 320}, fc.Metadata["value_range"])
	assert.Equal(t, "2026-03-14T09:00:00Z", fc.Metadata["generated_at"])

	f := fc.Features[0]
	assert.Equal(t, "Polygon", f.Geometry.Type)
	rings := f.Geometry.Coordinates.([]Ring)
	require.Len(t, rings[0], 5)
	assert.Equal(t, rings[0][0], rings[0][4], "ring is closed")

	for _, f := range fc.Features {
		op := f.Properties["opacity"].(float64)
		assert.GreaterOrEqual(t, op, 0.07)
		assert.LessOrEqual(t, op, 0.7)
		assert.NotEqual(t, Uncategorised, f.Properties["category"])
	}

	_, err = json.Marshal(fc)
	require.NoError(t, err)
}

func TestHeatmap_InsufficientData(t *testing.T) {
	b := newTestBuilder()
	readings := []domain.CalibratedReading{reading(12.97, 77.59, 50), reading(12.97, 77.59, 70)}

	fc, err := b.Heatmap(readings, domain.FieldAQI)
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
	assert.True(t, fc.InsufficientData())
	assert.Equal(t, "insufficient data", fc.Metadata["error"])

	fc, err = b.Contours(nil, domain.FieldAQI)
	require.NoError(t, err)
	assert.True(t, fc.InsufficientData())

	raw, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"features":[]`)
}

func TestHeatmap_UnknownField(t *testing.T) {
	_, err := newTestBuilder().Heatmap(cluster(), "noise_db")
	assert.EqualError(t, err, `unknown field "noise_db"`)
}

func TestContours(t *testing.T) {
	fc, err := newTestBuilder().Contours(cluster(), domain.FieldAQI)
	require.NoError(t, err)
	require.NotEmpty(t, fc.Features)
	assert.Equal(t, len(fc.Features), fc.Metadata["band_count"])

	heat, err := newTestBuilder().Heatmap(cluster(), domain.FieldAQI)
	require.NoError(t, err)

	total := 0
	rank := -1
	for _, f := range fc.Features {
		assert.Equal(t, "MultiPolygon", f.Geometry.Type)
		total += f.Properties["cell_count"].(int)

		r := bandRank(f.Properties["category"].(string))
		assert.Greater(t, r, rank, "bands ordered cleanest first")
		rank = r
	}
	assert.Equal(t, len(heat.Features), total, "every defined cell lands in one band")
}

func TestContours_OtherFieldsUncategorised(t *testing.T) {
	readings := cluster()
	for i := range readings {
		readings[i].Humidity = domain.Float(float64(50 + i*10))
	}
	fc, err := newTestBuilder().Contours(readings, domain.FieldHumidity)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, Uncategorised, fc.Features[0].Properties["category"])
}

func TestContours_PM25BandsThroughSubIndex(t *testing.T) {
	readings := []domain.CalibratedReading{
		{Latitude: 12.970, Longitude: 77.590, PM25: domain.Float(200)},
		{Latitude: 12.9702, Longitude: 77.5902, PM25: domain.Float(210)},
	}
	fc, err := newTestBuilder().Contours(readings, domain.FieldPM25)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, domain.CategoryVeryUnhealthy, fc.Features[0].Properties["category"])
}

func TestPoints(t *testing.T) {
	fc, err := newTestBuilder().Points(cluster(), domain.FieldAQI)
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)

	f := fc.Features[0]
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, [2]float64{77.59, 12.97}, f.Geometry.Coordinates)
	assert.Equal(t, 30.0, f.Properties["value"])
	assert.Equal(t, domain.CategoryGood, f.Properties["category"])

	t.Run("single point is still a valid layer", func(t *testing.T) {
		fc, err := newTestBuilder().Points(cluster()[:1], domain.FieldAQI)
		require.NoError(t, err)
		assert.Len(t, fc.Features, 1)
		assert.False(t, fc.InsufficientData())
	})
}

func bandRank(category string) int {
	for i, b := range domain.AQIBands {
		if b.Category == category {
			return i
		}
	}
	return len(domain.AQIBands)
}
