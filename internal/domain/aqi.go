package domain

import "math"

// Breakpoint is one row of an EPA concentration-to-index table.
type Breakpoint struct {
	ConcLo, ConcHi   float64
	IndexLo, IndexHi int
}

// BreakpointTable is ordered by ascending concentration.
type BreakpointTable []Breakpoint

// PM25Breakpoints is the US EPA PM2.5 (µg/m³, 24h) table.
var PM25Breakpoints = BreakpointTable{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 500.4, 301, 500},
}

// COBreakpoints is the US EPA CO (ppm, 8h) table.
var COBreakpoints = BreakpointTable{
	{0.0, 4.4, 0, 50},
	{4.5, 9.4, 51, 100},
	{9.5, 12.4, 101, 150},
	{12.5, 15.4, 151, 200},
	{15.5, 30.4, 201, 300},
	{30.5, 50.4, 301, 500},
}

// MaxAQI is reported for concentrations beyond the top of a table.
const MaxAQI = 500

// SubIndex maps a concentration onto the table. The concentration is truncated
// to 0.1 first, as the EPA does, and the first tier whose upper bound covers it
// is used, so the result is non-decreasing in the concentration.
func (t BreakpointTable) SubIndex(conc float64) int {
	if conc <= 0 || math.IsNaN(conc) {
		return 0
	}
	c := truncateTenth(conc)
	for _, bp := range t {
		if c <= bp.ConcHi {
			if c < bp.ConcLo {
				c = bp.ConcLo
			}
			slope := float64(bp.IndexHi-bp.IndexLo) / (bp.ConcHi - bp.ConcLo)
			return int(math.Round(slope*(c-bp.ConcLo) + float64(bp.IndexLo)))
		}
	}
	return MaxAQI
}

// truncateTenth drops digits past the first decimal.
func truncateTenth(conc float64) float64 {
	return math.Floor(conc*10+1e-9) / 10
}

// AQI categories.
const (
	CategoryGood          = "Good"
	CategoryModerate      = "Moderate"
	CategorySensitive     = "Unhealthy for Sensitive Groups"
	CategoryUnhealthy     = "Unhealthy"
	CategoryVeryUnhealthy = "Very Unhealthy"
	CategoryHazardous     = "Hazardous"
)

// Band is one AQI category with its upper index bound and map color.
type Band struct {
	Upper    int
	Category string
	Color    string
}

// AQIBands is ordered by ascending upper bound; the last band is open-ended.
var AQIBands = []Band{
	{50, CategoryGood, "#00e400"},
	{100, CategoryModerate, "#ffff00"},
	{150, CategorySensitive, "#ff7e00"},
	{200, CategoryUnhealthy, "#ff0000"},
	{300, CategoryVeryUnhealthy, "#8f3f97"},
	{math.MaxInt, CategoryHazardous, "#7e0023"},
}

// BandFor returns the AQI band containing aqi. Bounds are inclusive.
func BandFor(aqi float64) Band {
	for _, b := range AQIBands {
		if aqi <= float64(b.Upper) {
			return b
		}
	}
	return AQIBands[len(AQIBands)-1]
}

// Category returns the AQI category label for aqi.
func Category(aqi int) string {
	return BandFor(float64(aqi)).Category
}

// CalculateAQI reports max(PM2.5 sub-index, CO sub-index) and its category.
// Missing pollutants contribute a zero sub-index.
func CalculateAQI(pm25, co *float64) (int, string) {
	var pmIdx, coIdx int
	if pm25 != nil {
		pmIdx = PM25Breakpoints.SubIndex(*pm25)
	}
	if co != nil {
		coIdx = COBreakpoints.SubIndex(*co)
	}
	aqi := max(pmIdx, coIdx)
	return aqi, Category(aqi)
}

// Respiratory risk labels, ordered by increasing severity.
var RespiratoryRiskLevels = []string{"Low", "Moderate", "High", "Very High", "Severe"}

// RespiratoryRisk labels PM2.5 against the upper bounds of the first four PM2.5
// AQI tiers, truncating the same way SubIndex does so label and AQI agree.
func RespiratoryRisk(pm25 *float64) string {
	if pm25 == nil {
		return RespiratoryRiskLevels[0]
	}
	c := truncateTenth(*pm25)
	for i, bp := range PM25Breakpoints[:4] {
		if c <= bp.ConcHi {
			return RespiratoryRiskLevels[i]
		}
	}
	return RespiratoryRiskLevels[4]
}

// RespiratoryRiskRank returns the position of label in RespiratoryRiskLevels, or 0 if unknown.
func RespiratoryRiskRank(label string) int {
	for i, l := range RespiratoryRiskLevels {
		if l == label {
			return i
		}
	}
	return 0
}
