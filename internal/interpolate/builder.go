package interpolate

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Options tunes the interpolation grid.
type Options struct {
	Resolution int     // nodes per axis
	PaddingM   float64 // margin around the data bounding box
	Power      float64 // IDW distance exponent
	RadiusM    float64 // influence radius of a point
}

// DefaultOptions returns a 30×30 grid, 200 m padding, power 2, 500 m radius.
func DefaultOptions() Options {
	return Options{Resolution: 30, PaddingM: 200, Power: 2, RadiusM: 500}
}

// Uncategorised labels cells of fields that have no AQI mapping.
const Uncategorised = "Uncategorised"

const uncategorisedColor = "#888888"

// Builder renders readings as GeoJSON layers.
type Builder struct {
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewBuilder creates a builder. Zero-valued options fall back to the defaults.
func NewBuilder(opts Options, clock clockwork.Clock, logger *slog.Logger) *Builder {
	def := DefaultOptions()
	if opts.Resolution < 2 {
		opts.Resolution = def.Resolution
	}
	if opts.PaddingM < 0 {
		opts.PaddingM = def.PaddingM
	}
	if opts.Power <= 0 {
		opts.Power = def.Power
	}
	if opts.RadiusM <= 0 {
		opts.RadiusM = def.RadiusM
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{opts: opts, clock: clock, logger: logger}
}

// surface aggregates and interpolates; ok is false with fewer than two points.
func (b *Builder) surface(readings []domain.CalibratedReading, field string) ([]Point, Surface, bool) {
	points := Aggregate(readings, field)
	if len(points) < 2 {
		b.logger.Warn("interpolation needs at least 2 unique points", "field", field, "point_count", len(points))
		return points, Surface{}, false
	}
	grid := MakeGrid(points, b.opts.Resolution, b.opts.PaddingM)
	return points, IDW(points, grid, b.opts.Power, b.opts.RadiusM), true
}

// Heatmap returns one rectangular cell per defined grid node, tagged with the
// interpolated value, its AQI band and an opacity that fades with both a low
// value and a distant supporting point.
func (b *Builder) Heatmap(readings []domain.CalibratedReading, field string) (FeatureCollection, error) {
	if !domain.ValidField(field) {
		return FeatureCollection{}, unknownField(field)
	}
	points, s, ok := b.surface(readings, field)
	if !ok {
		return empty(), nil
	}
	vmin, vmax := valueRange(points)

	var features []Feature
	for _, n := range s.Defined() {
		band := bandFor(field, n.Value)
		confidence := math.Max(0, 1-n.NearestM/b.opts.RadiusM)
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Polygon", Coordinates: []Ring{cell(n, s.Grid)}},
			Properties: map[string]any{
				"value":    domain.RoundTo(n.Value, 1),
				"field":    field,
				"category": band.Category,
				"color":    band.Color,
				"opacity":  domain.RoundTo(valueOpacity(n.Value, vmin, vmax)*(0.5+0.5*confidence), 2),
			},
		})
	}

	b.logger.Info("heatmap built", "field", field, "cell_count", len(features), "point_count", len(points))
	return newCollection(features, map[string]any{
		"field":           field,
		"grid_resolution": b.opts.Resolution,
		"point_count":     len(points),
		"cell_count":      len(features),
		"value_range":     []float64{domain.RoundTo(vmin, 1), domain.RoundTo(vmax, 1)},
		"bounds":          roundBounds(s.Grid.Bounds),
		"generated_at":    b.clock.Now().UTC().Format(time.RFC3339),
	}), nil
}

// Contours groups defined cells by AQI band into one MultiPolygon per band,
// ordered from the cleanest band to the worst.
func (b *Builder) Contours(readings []domain.CalibratedReading, field string) (FeatureCollection, error) {
	if !domain.ValidField(field) {
		return FeatureCollection{}, unknownField(field)
	}
	points, s, ok := b.surface(readings, field)
	if !ok {
		return empty(), nil
	}

	cells := make(map[string][][]Ring)
	colors := make(map[string]string)
	for _, n := range s.Defined() {
		band := bandFor(field, n.Value)
		cells[band.Category] = append(cells[band.Category], []Ring{cell(n, s.Grid)})
		colors[band.Category] = band.Color
	}

	order := make([]string, 0, len(domain.AQIBands)+1)
	for _, band := range domain.AQIBands {
		order = append(order, band.Category)
	}
	order = append(order, Uncategorised)

	var features []Feature
	for _, category := range order {
		polys, ok := cells[category]
		if !ok {
			continue
		}
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "MultiPolygon", Coordinates: polys},
			Properties: map[string]any{
				"category":   category,
				"color":      colors[category],
				"cell_count": len(polys),
			},
		})
	}

	return newCollection(features, map[string]any{
		"field":        field,
		"band_count":   len(features),
		"point_count":  len(points),
		"generated_at": b.clock.Now().UTC().Format(time.RFC3339),
	}), nil
}

// Points exposes the aggregated sensor positions without interpolation.
func (b *Builder) Points(readings []domain.CalibratedReading, field string) (FeatureCollection, error) {
	if !domain.ValidField(field) {
		return FeatureCollection{}, unknownField(field)
	}
	points := Aggregate(readings, field)

	features := make([]Feature, 0, len(points))
	for _, p := range points {
		band := bandFor(field, p.Value)
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Point", Coordinates: [2]float64{p.Lon, p.Lat}},
			Properties: map[string]any{
				"value":         domain.RoundTo(p.Value, 1),
				"field":         field,
				"category":      band.Category,
				"color":         band.Color,
				"reading_count": p.Count,
			},
		})
	}

	return newCollection(features, map[string]any{
		"field":        field,
		"point_count":  len(features),
		"generated_at": b.clock.Now().UTC().Format(time.RFC3339),
	}), nil
}

func empty() FeatureCollection {
	return newCollection(nil, map[string]any{"error": "insufficient data", "point_count": 0})
}

func unknownField(field string) error {
	return fmt.Errorf("unknown field %q", field)
}

// bandFor maps a value to an AQI band: aqi directly, pm25 and co through
// their sub-index. Other fields have no band.
func bandFor(field string, v float64) domain.Band {
	switch field {
	case domain.FieldAQI:
		return domain.BandFor(v)
	case domain.FieldPM25:
		return domain.BandFor(float64(domain.PM25Breakpoints.SubIndex(v)))
	case domain.FieldCO:
		return domain.BandFor(float64(domain.COBreakpoints.SubIndex(v)))
	default:
		return domain.Band{Category: Uncategorised, Color: uncategorisedColor}
	}
}

// cell returns the node's rectangle, SW → SE → NE → NW → SW.
func cell(n Node, g Grid) Ring {
	swLat, swLon := n.Lat-g.CellLat/2, n.Lon-g.CellLon/2
	neLat, neLon := n.Lat+g.CellLat/2, n.Lon+g.CellLon/2
	return Ring{
		{swLon, swLat},
		{neLon, swLat},
		{neLon, neLat},
		{swLon, neLat},
		{swLon, swLat},
	}
}

func valueRange(points []Point) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	return lo, hi
}

// valueOpacity maps v onto 0.15–0.70 across the observed range.
func valueOpacity(v, lo, hi float64) float64 {
	if hi == lo {
		return 0.4
	}
	norm := math.Min(math.Max((v-lo)/(hi-lo), 0), 1)
	return 0.15 + 0.55*norm
}

func roundBounds(b Bounds) Bounds {
	return Bounds{
		LatMin: domain.RoundTo(b.LatMin, 6),
		LatMax: domain.RoundTo(b.LatMax, 6),
		LonMin: domain.RoundTo(b.LonMin, 6),
		LonMax: domain.RoundTo(b.LonMax, 6),
	}
}
