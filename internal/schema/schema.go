// Package schema declares the static per-category attribute schemas.
//
// A schema entry describes which category-specific fields exist, whether each
// is numeric (range-filterable), categorical (membership-filterable) or a
// flag, where the category lives on the source site, and which fields the
// renderer appends to the notification caption. The matching engine and the
// renderer consume schemas generically: adding a category means adding an
// entry here, not new code paths.
package schema

import "github.com/allprecisely/Ad-parser/internal/model"

// FieldKind selects the predicate applied to a category-specific field.
type FieldKind string

// Supported field kinds.
const (
	KindRange      FieldKind = "range"
	KindMembership FieldKind = "membership"
	KindFlag       FieldKind = "flag"
)

// Field declares one category-specific listing attribute.
type Field struct {
	Name string
	Kind FieldKind
}

// Category is the static schema for one classifieds section.
type Category struct {
	// Path is the site section for listing pages, relative to the base URL.
	Path string
	// ShortTermPath is an optional extra section whose listings are tagged
	// with the short_term flag (rent only).
	ShortTermPath string
	// Query holds fixed query-string parameters applied to every listing
	// page request for the category.
	Query map[string]string

	Fields []Field

	// Caption lists the field names appended to the rendered message, in
	// display order.
	Caption []string
}

// FlagShortTerm marks listings from a short-term rental section.
const FlagShortTerm = "short_term"

var byCategory = map[model.Category]Category{
	model.CategoryRent: {
		Path:          "real-estate-to-rent/apartments-flats",
		ShortTermPath: "real-estate-to-rent/short-term",
		Query:         map[string]string{"ordering": "newest"},
		Fields: []Field{
			{Name: "area", Kind: KindRange},
			{Name: "bedrooms", Kind: KindMembership},
			{Name: "furnishing", Kind: KindMembership},
			{Name: "pets", Kind: KindMembership},
			{Name: FlagShortTerm, Kind: KindFlag},
		},
		Caption: []string{"area", "bedrooms", "furnishing", "pets"},
	},
	model.CategoryCars: {
		Path:  "car-motorbikes-boats-and-parts/cars-trucks-and-vans",
		Query: map[string]string{"ordering": "newest"},
		Fields: []Field{
			{Name: "mileage", Kind: KindRange},
			{Name: "year", Kind: KindRange},
			{Name: "gearbox", Kind: KindMembership},
			{Name: "fuel", Kind: KindMembership},
		},
		Caption: []string{"year", "mileage", "gearbox", "fuel"},
	},
	model.CategoryMotorbikes: {
		Path:  "car-motorbikes-boats-and-parts/motorbikes",
		Query: map[string]string{"ordering": "newest"},
		Fields: []Field{
			{Name: "mileage", Kind: KindRange},
			{Name: "type", Kind: KindMembership},
		},
		Caption: []string{"mileage", "type"},
	},
}

// Get returns the schema for a category.
func Get(cat model.Category) (Category, bool) {
	c, ok := byCategory[cat]
	return c, ok
}

// Field returns the declared field with the given name.
func (c Category) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Numeric reports whether the field is range-filterable.
func (f Field) Numeric() bool { return f.Kind == KindRange }

// cityPoints maps a locality name to its reference point, used to compute
// the distance of a listing from the centre of its district.
var cityPoints = map[string]model.Coords{
	"Limassol":  {Lat: 34.707130, Lon: 33.022617},
	"Nicosia":   {Lat: 35.185566, Lon: 33.382276},
	"Larnaca":   {Lat: 34.916667, Lon: 33.629722},
	"Paphos":    {Lat: 34.772938, Lon: 32.429759},
	"Famagusta": {Lat: 35.120226, Lon: 33.939732},
	"Paralimni": {Lat: 35.038330, Lon: 33.983330},
}

// CityPoint returns the reference point for a locality. Unknown localities
// fall back to Limassol, matching the site's default district.
func CityPoint(locality string) model.Coords {
	if p, ok := cityPoints[locality]; ok {
		return p
	}
	return cityPoints["Limassol"]
}
