// Package interpolate turns scattered calibrated readings into a continuous
// surface by inverse distance weighting, and renders it as GeoJSON heatmap
// cells, AQI-band contour zones or a plain point layer.
package interpolate

import (
	"math"
	"sort"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// metresPerDegreeLat is the length of one degree of latitude.
const metresPerDegreeLat = 111_320.0

// coincident is the distance below which a node sits on a point.
const coincident = 1e-9

// Point is one aggregated sensor location: the mean of every reading whose
// coordinates round to the same 6-decimal fix.
type Point struct {
	Lat   float64
	Lon   float64
	Value float64
	Count int
}

// Aggregate groups readings reporting field by their 6-decimal fix and
// averages the values, so one stationary device cannot dominate a cell.
// Points are ordered by latitude then longitude.
func Aggregate(readings []domain.CalibratedReading, field string) []Point {
	type bucket struct {
		lat, lon float64
		sum      float64
		n        int
	}
	buckets := make(map[[2]float64]*bucket)
	for _, r := range readings {
		v, ok := r.Field(field)
		if !ok || math.IsNaN(v) {
			continue
		}
		key := [2]float64{domain.RoundTo(r.Latitude, 6), domain.RoundTo(r.Longitude, 6)}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{lat: key[0], lon: key[1]}
			buckets[key] = b
		}
		b.sum += v
		b.n++
	}

	points := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, Point{Lat: b.lat, Lon: b.lon, Value: b.sum / float64(b.n), Count: b.n})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Lat != points[j].Lat {
			return points[i].Lat < points[j].Lat
		}
		return points[i].Lon < points[j].Lon
	})
	return points
}

// Bounds is a lat/lon bounding box.
type Bounds struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// Grid is a regular lat/lon lattice of nodes. Lats and Lons hold the node
// coordinates along each axis; CellLat and CellLon are the rendered cell size.
type Grid struct {
	Bounds  Bounds
	Lats    []float64
	Lons    []float64
	CellLat float64
	CellLon float64
}

// minLonScale bounds the cosine correction so longitude padding stays finite
// near the poles.
const minLonScale = 0.01

// MakeGrid covers the points' bounding box plus paddingM on every side with a
// resolution × resolution lattice. Longitude padding is cosine-corrected at
// the mean latitude.
func MakeGrid(points []Point, resolution int, paddingM float64) Grid {
	if resolution < 2 {
		resolution = 2
	}
	b := Bounds{LatMin: math.Inf(1), LatMax: math.Inf(-1), LonMin: math.Inf(1), LonMax: math.Inf(-1)}
	var latSum float64
	for _, p := range points {
		b.LatMin = math.Min(b.LatMin, p.Lat)
		b.LatMax = math.Max(b.LatMax, p.Lat)
		b.LonMin = math.Min(b.LonMin, p.Lon)
		b.LonMax = math.Max(b.LonMax, p.Lon)
		latSum += p.Lat
	}
	meanLat := latSum / float64(len(points))

	padLat := paddingM / metresPerDegreeLat
	padLon := paddingM / (metresPerDegreeLat * math.Max(math.Cos(meanLat*math.Pi/180), minLonScale))
	b.LatMin -= padLat
	b.LatMax += padLat
	b.LonMin -= padLon
	b.LonMax += padLon

	return Grid{
		Bounds:  b,
		Lats:    linspace(b.LatMin, b.LatMax, resolution),
		Lons:    linspace(b.LonMin, b.LonMax, resolution),
		CellLat: (b.LatMax - b.LatMin) / float64(resolution),
		CellLon: (b.LonMax - b.LonMin) / float64(resolution),
	}
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// Node is one interpolated grid node. Undefined nodes had no point within
// the influence radius and carry no value.
type Node struct {
	Lat      float64
	Lon      float64
	Value    float64
	Defined  bool
	NearestM float64
}

// Surface is the interpolated grid, indexed [row][col] with rows along latitude.
type Surface struct {
	Grid  Grid
	Nodes [][]Node
}

// Defined returns the defined nodes in row-major order.
func (s Surface) Defined() []Node {
	var out []Node
	for _, row := range s.Nodes {
		for _, n := range row {
			if n.Defined {
				out = append(out, n)
			}
		}
	}
	return out
}

// IDW interpolates points onto grid. Points farther than radiusM from a node
// are ignored; a node with none left stays undefined. A node coinciding with
// one or more points takes their mean value.
func IDW(points []Point, grid Grid, power, radiusM float64) Surface {
	s := Surface{Grid: grid, Nodes: make([][]Node, len(grid.Lats))}
	for i, lat := range grid.Lats {
		row := make([]Node, len(grid.Lons))
		for j, lon := range grid.Lons {
			row[j] = interpolateNode(points, lat, lon, power, radiusM)
		}
		s.Nodes[i] = row
	}
	return s
}

func interpolateNode(points []Point, lat, lon, power, radiusM float64) Node {
	n := Node{Lat: lat, Lon: lon, NearestM: math.Inf(1)}

	var weighted, weights, exactSum float64
	var exact int
	for _, p := range points {
		d := domain.Haversine(lat, lon, p.Lat, p.Lon)
		if d > radiusM {
			continue
		}
		n.NearestM = math.Min(n.NearestM, d)
		if d < coincident {
			exactSum += p.Value
			exact++
			continue
		}
		w := 1 / math.Pow(d, power)
		weighted += w * p.Value
		weights += w
	}

	switch {
	case exact > 0:
		n.Value = exactSum / float64(exact)
		n.Defined = true
	case weights > 0:
		n.Value = weighted / weights
		n.Defined = true
	}
	return n
}
