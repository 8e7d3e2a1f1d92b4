// Package mapview keeps the marker layer that mirrors the memory collection
// on a map, and answers the view questions a map widget asks.
package mapview

import (
	"math"
	"slices"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"memorypin/pkg/domain"
)

// Zoom levels used by the map.
const (
	WorldZoom  = 2
	CenterZoom = 13
)

const popupTextLimit = 100

// Marker is one pin on the map.
type Marker struct {
	ID          int64              `json:"id"`
	Coordinates domain.Coordinates `json:"coordinates"`
	Privacy     domain.Privacy     `json:"privacy"`
	Popup       string             `json:"popup"`
	Tags        []string           `json:"tags,omitempty"`
}

func (m Marker) equal(o Marker) bool {
	return m.ID == o.ID && m.Coordinates == o.Coordinates && m.Privacy == o.Privacy &&
		m.Popup == o.Popup && slices.Equal(m.Tags, o.Tags)
}

// Diff lists the marker ids a Sync touched, each sorted ascending.
type Diff struct {
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
	Updated []int64 `json:"updated"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// View is the map's center and zoom.
type View struct {
	Center domain.Coordinates `json:"center"`
	Zoom   int                `json:"zoom"`
}

// Layer holds the markers keyed by memory id.
type Layer struct {
	mu      sync.Mutex
	markers map[int64]Marker
	view    View
	logger  *zap.Logger
}

// NewLayer returns an empty layer showing the whole world.
func NewLayer(logger *zap.Logger) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{
		markers: make(map[int64]Marker),
		view:    View{Zoom: WorldZoom},
		logger:  logger,
	}
}

// PopupText renders the location and date on one line, then at most the
// first 100 characters of the memory text.
func PopupText(r domain.Record) string {
	head := r.Location + " — " + r.Date
	text := r.Text
	if utf8.RuneCountInString(text) > popupTextLimit {
		text = string([]rune(text)[:popupTextLimit]) + "…"
	}
	if text == "" {
		return head
	}
	return head + "\n" + text
}

// MarkerFor builds the marker for r. Records without coordinates have none.
func MarkerFor(r domain.Record) (Marker, bool) {
	if r.Coordinates == nil {
		return Marker{}, false
	}
	return Marker{
		ID:          r.ID,
		Coordinates: *r.Coordinates,
		Privacy:     r.Privacy,
		Popup:       PopupText(r),
		Tags:        append([]string(nil), r.Tags...),
	}, true
}

// Sync makes the layer match records and reports what changed.
func (l *Layer) Sync(records []domain.Record) Diff {
	next := make(map[int64]Marker, len(records))
	for _, r := range records {
		if m, ok := MarkerFor(r); ok {
			next[r.ID] = m
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var d Diff
	for id, m := range next {
		old, ok := l.markers[id]
		switch {
		case !ok:
			d.Added = append(d.Added, id)
		case !old.equal(m):
			d.Updated = append(d.Updated, id)
		}
	}
	for id := range l.markers {
		if _, ok := next[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	slices.Sort(d.Updated)
	l.markers = next
	if !d.Empty() {
		l.logger.Debug("markers synced",
			zap.Int("added", len(d.Added)), zap.Int("removed", len(d.Removed)), zap.Int("updated", len(d.Updated)))
	}
	return d
}

// Markers returns the markers sorted by id.
func (l *Layer) Markers() []Marker {
	return l.Visible(domain.FilterAll)
}

// Visible returns the markers admitted by filter, sorted by id.
func (l *Layer) Visible(filter domain.PrivacyFilter) []Marker {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Marker, 0, len(l.markers))
	for _, m := range l.markers {
		if filter.Admits(m.Privacy) {
			m.Tags = append([]string(nil), m.Tags...)
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b Marker) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Center moves the view to c at street zoom.
func (l *Layer) Center(c domain.Coordinates) {
	l.mu.Lock()
	l.view = View{Center: c, Zoom: CenterZoom}
	l.mu.Unlock()
}

// View returns the current view.
func (l *Layer) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view
}

// Click turns a click on the map into a validated coordinate for a new
// memory.
func (l *Layer) Click(lat, lng float64) (domain.Coordinates, error) {
	c := domain.Coordinates{Lat: lat, Lng: lng}
	if err := domain.ValidateCoordinates(c); err != nil {
		l.logger.Debug("map click rejected", zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Error(err))
		return domain.Coordinates{}, err
	}
	return c, nil
}

// Bounds is a lat/lng rectangle.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Contains reports whether c lies inside b.
func (b Bounds) Contains(c domain.Coordinates) bool {
	return c.Lat >= b.South && c.Lat <= b.North && c.Lng >= b.West && c.Lng <= b.East
}

// PadRatio widens bounds by this share of their span on every side.
const PadRatio = 0.1

// minPad keeps a single pin from producing a zero-area box.
const minPad = 0.01

// FitBounds returns the padded box around every record with coordinates.
func FitBounds(records []domain.Record) (Bounds, bool) {
	var b Bounds
	found := false
	for _, r := range records {
		if r.Coordinates == nil {
			continue
		}
		c := *r.Coordinates
		if !found {
			b = Bounds{South: c.Lat, North: c.Lat, West: c.Lng, East: c.Lng}
			found = true
			continue
		}
		b.South = math.Min(b.South, c.Lat)
		b.North = math.Max(b.North, c.Lat)
		b.West = math.Min(b.West, c.Lng)
		b.East = math.Max(b.East, c.Lng)
	}
	if !found {
		return Bounds{}, false
	}
	return b.pad(PadRatio), true
}

func (b Bounds) pad(ratio float64) Bounds {
	dLat := math.Max((b.North-b.South)*ratio, minPad)
	dLng := math.Max((b.East-b.West)*ratio, minPad)
	return Bounds{
		South: math.Max(b.South-dLat, -90),
		North: math.Min(b.North+dLat, 90),
		West:  math.Max(b.West-dLng, -180),
		East:  math.Min(b.East+dLng, 180),
	}
}
