package zone

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func reading(lat, lon float64, aqi int, pm25 float64, at time.Time) domain.CalibratedReading {
	return domain.CalibratedReading{
		DeviceID:        "esp32-01",
		Latitude:        lat,
		Longitude:       lon,
		AQI:             aqi,
		PM25:            domain.Float(pm25),
		CO:              domain.Float(1),
		ToxicGasIndex:   10,
		RespiratoryRisk: domain.RespiratoryRisk(domain.Float(pm25)),
		RecordedAt:      at,
	}
}

func TestCluster_BucketsByRoundedLocation(t *testing.T) {
	readings := []domain.CalibratedReading{
		reading(12.97161, 77.59461, 50, 12, t0),
		reading(12.97179, 77.59452, 150, 55, t0.Add(time.Minute)),
		reading(12.98000, 77.60000, 20, 5, t0),
	}

	zones := Cluster(readings, 3, ScoreAQI)
	require.Len(t, zones, 2)

	z := zones[0]
	assert.Equal(t, "12.972,77.595", z.ID)
	assert.Equal(t, 2, z.ReadingCount)
	assert.InDelta(t, 12.9717, z.Lat, 1e-9)
	require.NotNil(t, z.AvgAQI)
	assert.Equal(t, 100.0, *z.AvgAQI)
	assert.Equal(t, 150, z.MaxAQI)
	assert.Equal(t, 55.0, z.MaxPM25)
	assert.Equal(t, 20.0, z.PrimaryScore)
	assert.Equal(t, domain.CategoryModerate, z.AQICategory)
	assert.Equal(t, "#f5c542", z.Color)
	assert.Equal(t, "High", z.RespiratoryRisk)
	assert.Equal(t, t0, z.Oldest)
	assert.Equal(t, t0.Add(time.Minute), z.Latest)
	assert.Nil(t, z.AvgTemperature, "no member reported temperature")

	assert.Equal(t, "12.98,77.6", zones[1].ID)
}

func TestCluster_SortedWorstFirst(t *testing.T) {
	var readings []domain.CalibratedReading
	for i := 0; i < 40; i++ {
		lat := 12.9 + float64(i%8)*0.01
		readings = append(readings, reading(lat, 77.5, (i*37)%400, float64(i), t0))
	}

	for _, st := range []ScoreType{ScoreOverall, ScoreAQI, ScorePM25, ScoreCO, ScoreTemperature, ScoreToxicGas, ScoreHumidity} {
		t.Run(string(st), func(t *testing.T) {
			zones := Cluster(readings, 2, st)
			require.NotEmpty(t, zones)
			for i := 1; i < len(zones); i++ {
				assert.GreaterOrEqual(t, zones[i-1].PrimaryScore, zones[i].PrimaryScore)
				if zones[i-1].PrimaryScore == zones[i].PrimaryScore {
					assert.Less(t, zones[i-1].ID, zones[i].ID)
				}
			}
			for _, z := range zones {
				assert.GreaterOrEqual(t, z.PrimaryScore, 0.0)
				assert.LessOrEqual(t, z.PrimaryScore, 100.0)
				assert.LessOrEqual(t, z.Opacity, 0.85)
			}
		})
	}
}

func TestCluster_RenderHints(t *testing.T) {
	var readings []domain.CalibratedReading
	for i := 0; i < 60; i++ {
		readings = append(readings, reading(12.97, 77.59, 500, 300, t0))
	}
	z := Cluster(readings, 3, ScoreAQI)[0]

	assert.Equal(t, 100.0, z.PrimaryScore)
	assert.Equal(t, (80+60*0.5)*1.5, z.RadiusM)
	assert.Equal(t, 0.85, z.Opacity, "opacity is capped")
	assert.Equal(t, domain.CategoryHazardous, z.AQICategory)
}

func TestCluster_OverallScore(t *testing.T) {
	r := reading(12.97, 77.59, 250, 100, t0)
	r.ToxicGasIndex = 40
	r.HeatIndex = domain.Float(35)

	z := Cluster([]domain.CalibratedReading{r}, 3, ScoreOverall)[0]
	// 250/500*60 + 40/100*25 + (35-25)/25*15
	assert.Equal(t, 46.0, z.PrimaryScore)
}

func TestCluster_PrecisionClamped(t *testing.T) {
	readings := []domain.CalibratedReading{reading(12.971234, 77.591234, 10, 2, t0)}
	assert.Equal(t, "12.97123,77.59123", Cluster(readings, 9, ScoreAQI)[0].ID)
	assert.Equal(t, "13,77.6", Cluster(readings, 0, ScoreAQI)[0].ID)
}

func TestCluster_Empty(t *testing.T) {
	assert.Empty(t, Cluster(nil, 3, ScoreOverall))
}

func TestParseScoreType(t *testing.T) {
	st, err := ParseScoreType("")
	require.NoError(t, err)
	assert.Equal(t, ScoreOverall, st)

	st, err = ParseScoreType("toxic_gas")
	require.NoError(t, err)
	assert.Equal(t, ScoreToxicGas, st)

	_, err = ParseScoreType("noise")
	assert.EqualError(t, err, fmt.Sprintf("unknown score type %q", "noise"))
}
