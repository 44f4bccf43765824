package interpolate

// FeatureCollection is a GeoJSON feature collection with a free-form
// metadata member describing how it was built.
type FeatureCollection struct {
	Type     string         `json:"type"`
	Features []Feature      `json:"features"`
	Metadata map[string]any `json:"metadata"`
}

// Feature is a GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry is a GeoJSON geometry. Coordinates are [lon, lat] ordered.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// Ring is a closed linear ring of [lon, lat] positions.
type Ring [][2]float64

func newCollection(features []Feature, metadata map[string]any) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features, Metadata: metadata}
}

// InsufficientData reports a collection built from fewer than two distinct points.
func (fc FeatureCollection) InsufficientData() bool {
	_, ok := fc.Metadata["error"]
	return ok
}
