package alert

import (
	"fmt"
	"strconv"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Tier is one severity step of a rule. Title and Message are fmt templates
// taking the formatted value and, for Message, the location label.
type Tier struct {
	Threshold float64
	Severity  domain.Severity
	Title     string
	Message   string
}

// Rule is the tier table of one alert type.
type Rule struct {
	Type  string
	Tiers []Tier
}

// Match returns the highest tier whose threshold v meets or exceeds. Tier
// order in the table does not matter.
func (r Rule) Match(v float64) (Tier, bool) {
	var best Tier
	found := false
	for _, t := range r.Tiers {
		if v < t.Threshold {
			continue
		}
		if !found || t.Threshold > best.Threshold {
			best, found = t, true
		}
	}
	return best, found
}

func (t Tier) title(v float64) string {
	return fmt.Sprintf(t.Title, formatValue(v))
}

func (t Tier) message(v float64, where string) string {
	return fmt.Sprintf(t.Message, formatValue(v), where)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(domain.RoundTo(v, 1), 'f', -1, 64)
}

// AQIRule is also the table applied to single readings and hotspot peaks.
var AQIRule = Rule{Type: domain.AlertAQI, Tiers: []Tier{
	{300, domain.SeverityCritical, "Hazardous air quality: AQI %s",
		"AQI has reached %s in %s. Everyone should avoid outdoor activity. Close windows and use air purifiers."},
	{200, domain.SeverityDanger, "Very unhealthy air: AQI %s",
		"AQI is %s in %s. Sensitive groups should stay indoors. Limit prolonged outdoor exertion."},
	{150, domain.SeverityWarning, "Unhealthy for sensitive groups: AQI %s",
		"AQI is %s in %s. People with respiratory conditions should take precautions."},
	{100, domain.SeverityInfo, "Moderate air quality: AQI %s",
		"AQI is %s in %s. Unusually sensitive individuals may experience symptoms."},
}}

var pm25Rule = Rule{Type: domain.AlertPM25, Tiers: []Tier{
	{150.4, domain.SeverityCritical, "Severe PM2.5: %s µg/m³",
		"PM2.5 at %s µg/m³ in %s. Severe respiratory risk. Stay indoors with air filtration."},
	{55.5, domain.SeverityDanger, "Very high PM2.5: %s µg/m³",
		"PM2.5 at %s µg/m³ in %s. Very high respiratory risk. Avoid outdoor activity."},
	{35.5, domain.SeverityWarning, "High PM2.5: %s µg/m³",
		"PM2.5 at %s µg/m³ in %s. Consider wearing an N95 mask outdoors."},
}}

var coRule = Rule{Type: domain.AlertCO, Tiers: []Tier{
	{30.5, domain.SeverityCritical, "Dangerous CO level: %s ppm",
		"CO at %s ppm in %s. Carbon monoxide at hazardous levels. Evacuate enclosed spaces."},
	{12.5, domain.SeverityDanger, "High carbon monoxide: %s ppm",
		"CO at %s ppm in %s. Carbon monoxide elevated. Ensure ventilation."},
	{9.5, domain.SeverityWarning, "Elevated CO: %s ppm",
		"CO at %s ppm in %s. Slightly elevated carbon monoxide detected."},
}}

var heatRule = Rule{Type: domain.AlertHeat, Tiers: []Tier{
	{54, domain.SeverityCritical, "Extreme heat danger: heat index %s°C",
		"Heat index %s°C in %s. Extreme danger of heat stroke. Stay in air conditioning."},
	{41, domain.SeverityDanger, "Heat warning: heat index %s°C",
		"Heat index %s°C in %s. Heat exhaustion likely. Stay hydrated and limit exposure."},
	{33, domain.SeverityWarning, "High heat index: %s°C",
		"Heat index %s°C in %s. Use caution during outdoor activities."},
}}

var toxicGasRule = Rule{Type: domain.AlertToxicGas, Tiers: []Tier{
	{80, domain.SeverityCritical, "Critical toxic gas index: %s/100",
		"Toxic gas index %s/100 in %s. Multiple hazardous gases detected at dangerous levels."},
	{60, domain.SeverityDanger, "High toxic gas index: %s/100",
		"Toxic gas index %s/100 in %s. Elevated gas mixture. Avoid the area."},
	{40, domain.SeverityWarning, "Elevated toxic gas: %s/100",
		"Toxic gas index %s/100 in %s. Slight elevation in ambient gas levels."},
}}

// ZoneRules are evaluated against zone means, in this order.
var ZoneRules = []Rule{AQIRule, pm25Rule, coRule, heatRule, toxicGasRule}
