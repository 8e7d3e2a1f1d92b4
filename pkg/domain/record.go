// Package domain defines the memory record, its value types, the validation
// rule set, and the error taxonomy shared by the store and its consumers.
package domain

import (
	"sort"
	"strings"
	"time"
)

// Privacy is the visibility tag carried by every record.
type Privacy string

const (
	// PrivacyPublic marks a record visible to everyone browsing the map.
	PrivacyPublic Privacy = "public"
	// PrivacyPrivate marks a record visible only to its author.
	PrivacyPrivate Privacy = "private"
)

// Valid reports whether p is one of the two accepted literals.
func (p Privacy) Valid() bool {
	return p == PrivacyPublic || p == PrivacyPrivate
}

// PrivacyFilter selects records by privacy on read.
type PrivacyFilter string

const (
	// FilterAll admits every record.
	FilterAll PrivacyFilter = "all"
	// FilterPublic admits only public records.
	FilterPublic PrivacyFilter = PrivacyFilter(PrivacyPublic)
	// FilterPrivate admits only private records.
	FilterPrivate PrivacyFilter = PrivacyFilter(PrivacyPrivate)
)

// ParsePrivacyFilter maps user input onto a filter. Empty input means all.
func ParsePrivacyFilter(raw string) (PrivacyFilter, error) {
	switch PrivacyFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterPublic:
		return FilterPublic, nil
	case FilterPrivate:
		return FilterPrivate, nil
	default:
		return "", &ValidationError{
			Fields:   []string{"privacy"},
			Problems: []string{"privacy filter must be one of all, public, private"},
		}
	}
}

// Admits reports whether a record with privacy p passes the filter.
func (f PrivacyFilter) Admits(p Privacy) bool {
	return f == "" || f == FilterAll || Privacy(f) == p
}

// MaxTags caps the number of tags the create form accepts.
const MaxTags = 5

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat" validate:"finite,min=-90,max=90"`
	Lng float64 `json:"lng" validate:"finite,min=-180,max=180"`
}

// Record is one pinned memory.
type Record struct {
	ID          int64        `json:"id" validate:"required"`
	Location    string       `json:"location" validate:"notblank"`
	Date        string       `json:"date" validate:"notblank,memorydate"`
	Text        string       `json:"text" validate:"notblank"`
	Photo       *string      `json:"photo"`
	Privacy     Privacy      `json:"privacy" validate:"required,oneof=public private"`
	Tags        []string     `json:"tags,omitempty" validate:"omitempty,unique,dive,notblank"`
	Coordinates *Coordinates `json:"coordinates" validate:"required"`
	CreatedAt   string       `json:"createdAt,omitempty"`
}

// Clone returns a deep copy so callers never share slices or pointers with
// the store's canonical copy.
func (r Record) Clone() Record {
	cp := r
	if r.Photo != nil {
		photo := *r.Photo
		cp.Photo = &photo
	}
	if r.Tags != nil {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	if r.Coordinates != nil {
		coords := *r.Coordinates
		cp.Coordinates = &coords
	}
	return cp
}

// Matches performs the case-insensitive substring search over location, text
// and tags. The query must already be lower-cased and trimmed.
func (r Record) Matches(lowerQuery string) bool {
	if strings.Contains(strings.ToLower(r.Location), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Text), lowerQuery) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(strings.ToLower(tag), lowerQuery) {
			return true
		}
	}
	return false
}

// Patch carries a partial update. Nil fields are left untouched. The id is
// not patchable.
type Patch struct {
	Location    *string
	Date        *string
	Text        *string
	Photo       *string
	ClearPhoto  bool
	Privacy     *Privacy
	Tags        *[]string
	Coordinates *Coordinates
	CreatedAt   *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Location == nil && p.Date == nil && p.Text == nil && p.Photo == nil && !p.ClearPhoto &&
		p.Privacy == nil && p.Tags == nil && p.Coordinates == nil && p.CreatedAt == nil
}

// Apply merges the patch over a copy of r.
func (p Patch) Apply(r Record) Record {
	out := r.Clone()
	if p.Location != nil {
		out.Location = *p.Location
	}
	if p.Date != nil {
		out.Date = *p.Date
	}
	if p.Text != nil {
		out.Text = *p.Text
	}
	if p.ClearPhoto {
		out.Photo = nil
	}
	if p.Photo != nil {
		photo := *p.Photo
		out.Photo = &photo
	}
	if p.Privacy != nil {
		out.Privacy = *p.Privacy
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Coordinates != nil {
		coords := *p.Coordinates
		out.Coordinates = &coords
	}
	if p.CreatedAt != nil {
		out.CreatedAt = *p.CreatedAt
	}
	return out
}

var dateLayouts = []string{"2006-01-02", time.RFC3339Nano, time.RFC3339}

// ParseDate parses a record date. Calendar dates and RFC 3339 timestamps are
// accepted.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// SortByDateDesc orders records newest first. The sort is stable, so records
// sharing a date keep their relative order. Unparseable dates sink to the end.
func SortByDateDesc(records []Record) {
	type keyed struct {
		rec Record
		at  time.Time
		ok  bool
	}
	ks := make([]keyed, len(records))
	for i, r := range records {
		t, err := ParseDate(r.Date)
		ks[i] = keyed{rec: r, at: t, ok: err == nil}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if a.ok != b.ok {
			return a.ok
		}
		return a.at.After(b.at)
	})
	for i := range ks {
		records[i] = ks[i].rec
	}
}

// IsSortedByDateDesc reports whether records already satisfy SortByDateDesc's order.
func IsSortedByDateDesc(records []Record) bool {
	for i := 1; i < len(records); i++ {
		prev, errPrev := ParseDate(records[i-1].Date)
		cur, errCur := ParseDate(records[i].Date)
		if errPrev != nil && errCur == nil {
			return false
		}
		if errPrev == nil && errCur == nil && cur.After(prev) {
			return false
		}
	}
	return true
}

// Filter returns the records admitted by f, preserving order.
func Filter(records []Record, f PrivacyFilter) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if f.Admits(r.Privacy) {
			out = append(out, r)
		}
	}
	return out
}
