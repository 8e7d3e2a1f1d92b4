package mapview

import (
	"encoding/json"
	"fmt"

	"memorypin/pkg/domain"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string     `json:"type"`
	Geometry   point      `json:"geometry"`
	Properties properties `json:"properties"`
}

// GeoJSON positions are [longitude, latitude].
type point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type properties struct {
	ID       int64          `json:"id"`
	Location string         `json:"location"`
	Date     string         `json:"date"`
	Privacy  domain.Privacy `json:"privacy"`
	Tags     []string       `json:"tags"`
	Popup    string         `json:"popup"`
}

// GeoJSON renders records with coordinates as a FeatureCollection of points.
// Photos are left out.
func GeoJSON(records []domain.Record) ([]byte, error) {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(records))}
	for _, r := range records {
		if r.Coordinates == nil {
			continue
		}
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		fc.Features = append(fc.Features, feature{
			Type:     "Feature",
			Geometry: point{Type: "Point", Coordinates: [2]float64{r.Coordinates.Lng, r.Coordinates.Lat}},
			Properties: properties{
				ID:       r.ID,
				Location: r.Location,
				Date:     r.Date,
				Privacy:  r.Privacy,
				Tags:     tags,
				Popup:    PopupText(r),
			},
		})
	}
	b, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render geojson: %w", err)
	}
	return b, nil
}
