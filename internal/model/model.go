// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// Category identifies one classifieds section watched by the pipeline.
type Category string

// Watched categories.
const (
	CategoryRent       Category = "rent"
	CategoryCars       Category = "cars"
	CategoryMotorbikes Category = "motorbikes"
)

// Categories returns all watched categories in a stable order.
func Categories() []Category {
	return []Category{CategoryRent, CategoryCars, CategoryMotorbikes}
}

// Coords is a WGS84 latitude/longitude pair.
type Coords struct {
	Lat float64
	Lon float64
}

// PriceDrop records a price reduction observed between two polling cycles.
type PriceDrop struct {
	Old int
	New int
}

// Attr is a single category-specific listing attribute. Exactly one of the
// value fields is meaningful, depending on the field kind declared in the
// category schema: Num for numeric fields, Text for categorical fields,
// Set for flags.
type Attr struct {
	Num  int
	Text string
	Set  bool
}

// NumAttr builds a numeric attribute value.
func NumAttr(v int) Attr { return Attr{Num: v} }

// TextAttr builds a categorical attribute value.
func TextAttr(v string) Attr { return Attr{Text: v} }

// FlagAttr builds a set flag attribute value.
func FlagAttr() Attr { return Attr{Set: true} }

// Listing is a single classifieds ad. It is immutable once persisted, except
// for PriceLowered which is recorded when the same ad reappears cheaper.
type Listing struct {
	ID           string
	Category     Category
	Price        int
	Title        string
	Location     string
	Distance     float64
	Coords       *Coords
	PostedAt     time.Time
	FetchedAt    time.Time
	URL          string
	Images       []string
	Description  string
	Attrs        map[string]Attr
	PriceLowered *PriceDrop
}

// Locality returns the first token of the listing location, used for
// city-level filtering ("Limassol district, Germasogeia" -> "Limassol").
func (l *Listing) Locality() string {
	fields := strings.Fields(l.Location)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimSuffix(fields[0], ",")
}

// Range is a closed interval with optional bounds. A nil bound means
// "no constraint" on that side.
type Range struct {
	Min *int
	Max *int
}

// Contains reports whether v falls inside the range, treating nil bounds
// as open.
func (r Range) Contains(v int) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Subscription is one user's saved multi-criteria search for a category.
// Unset optional fields act as "no constraint".
type Subscription struct {
	UserID        int64
	Category      Category
	Cities        []string
	DistanceMax   float64
	PriceMin      *int
	PriceMax      *int
	ExcludedWords []string

	// Category-specific criteria, keyed by schema field name.
	Ranges  map[string]Range    // numeric fields
	Choices map[string][]string // categorical fields
	Flags   map[string]bool     // flag fields: true = flagged listings accepted
}

// Matchable reports whether the subscription carries the minimum criteria
// required to ever match: at least one city and a distance bound.
func (s *Subscription) Matchable() bool {
	return len(s.Cities) > 0 && s.DistanceMax > 0
}

// User is a notification recipient. Inactive users receive nothing
// regardless of their subscriptions.
type User struct {
	ID     int64
	Active bool
}

// Preferences holds per-user delivery settings.
type Preferences struct {
	Silent       bool // deliver without sound
	NoPhotos     bool // text-only messages, skip media groups
	ShowLocation bool // send a location pin when coordinates are known
}
