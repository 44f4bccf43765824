package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPM25SubIndex(t *testing.T) {
	tests := []struct {
		conc float64
		want int
	}{
		{0, 0},
		{-3, 0},
		{6.0, 25},
		{12.0, 50},
		{12.05, 50}, // truncated to 12.0
		{12.1, 51},
		{35.4, 100},
		{35.45, 100},
		{35.5, 101},
		{60.0, 153},
		{150.4, 200},
		{250.4, 300},
		{500.4, 500},
		{900, 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PM25Breakpoints.SubIndex(tt.conc), "pm25=%v", tt.conc)
	}
}

func TestCOSubIndex(t *testing.T) {
	assert.Equal(t, 50, COBreakpoints.SubIndex(4.4))
	assert.Equal(t, 51, COBreakpoints.SubIndex(4.5))
	assert.Equal(t, 100, COBreakpoints.SubIndex(9.4))
	assert.Equal(t, 500, COBreakpoints.SubIndex(99.04))
}

func TestCalculateAQI_CategoryBoundaries(t *testing.T) {
	aqi, cat := CalculateAQI(Float(12.0), nil)
	assert.Equal(t, 50, aqi)
	assert.Equal(t, CategoryGood, cat)

	aqi, cat = CalculateAQI(Float(12.1), nil)
	assert.Equal(t, 51, aqi)
	assert.Equal(t, CategoryModerate, cat)

	aqi, cat = CalculateAQI(nil, nil)
	assert.Zero(t, aqi)
	assert.Equal(t, CategoryGood, cat)
}

func TestCalculateAQI_MonotonicInPM25(t *testing.T) {
	for _, co := range []*float64{nil, Float(2), Float(10), Float(40)} {
		prev := -1
		for pm := 0.0; pm <= 600; pm += 0.03 {
			aqi, _ := CalculateAQI(Float(pm), co)
			if aqi < prev {
				t.Fatalf("aqi decreased from %d to %d at pm25=%v", prev, aqi, pm)
			}
			prev = aqi
		}
	}
}

func TestCalculateAQI_TakesWorseSubIndex(t *testing.T) {
	aqi, _ := CalculateAQI(Float(5), Float(13))
	assert.Equal(t, COBreakpoints.SubIndex(13), aqi)
}

func TestCategory(t *testing.T) {
	tests := map[int]string{
		0:   CategoryGood,
		50:  CategoryGood,
		51:  CategoryModerate,
		100: CategoryModerate,
		150: CategorySensitive,
		200: CategoryUnhealthy,
		300: CategoryVeryUnhealthy,
		301: CategoryHazardous,
		500: CategoryHazardous,
	}
	for aqi, want := range tests {
		assert.Equal(t, want, Category(aqi), "aqi=%d", aqi)
	}
}

func TestRespiratoryRisk(t *testing.T) {
	assert.Equal(t, "Low", RespiratoryRisk(nil))
	assert.Equal(t, "Low", RespiratoryRisk(Float(12)))
	assert.Equal(t, "Moderate", RespiratoryRisk(Float(20)))
	assert.Equal(t, "High", RespiratoryRisk(Float(55.4)))
	assert.Equal(t, "Very High", RespiratoryRisk(Float(150)))
	assert.Equal(t, "Severe", RespiratoryRisk(Float(151)))

	assert.Equal(t, 4, RespiratoryRiskRank("Severe"))
	assert.Equal(t, 0, RespiratoryRiskRank("bogus"))
}

func TestRespiratoryRisk_AgreesWithAQIAtTierEdges(t *testing.T) {
	tests := []struct {
		pm25         float64
		wantRisk     string
		wantCategory string
	}{
		{12.05, "Low", CategoryGood},
		{12.1, "Moderate", CategoryModerate},
		{35.45, "Moderate", CategoryModerate},
		{55.49, "High", CategorySensitive},
		{150.45, "Very High", CategoryUnhealthy},
	}
	for _, tt := range tests {
		_, category := CalculateAQI(Float(tt.pm25), nil)
		assert.Equal(t, tt.wantCategory, category, "pm25=%v", tt.pm25)
		assert.Equal(t, tt.wantRisk, RespiratoryRisk(Float(tt.pm25)), "pm25=%v", tt.pm25)
	}
}
