// Package match implements the subscription matching engine.
//
// Matching is a pure computation over already-enriched listings: no I/O, no
// clock. The per-category criteria are evaluated generically from the
// category schema, so the engine has no knowledge of individual field names.
package match

import (
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/report"
	"github.com/allprecisely/Ad-parser/internal/schema"
)

// Engine matches listings against user subscriptions.
type Engine struct {
	mistakes *report.Collector
}

// New creates an Engine reporting predicate failures to mistakes.
func New(mistakes *report.Collector) *Engine {
	return &Engine{mistakes: mistakes}
}

// Match pairs every new listing with the users whose subscription accepts it.
// The result maps category -> listing id -> user ids; listings nobody wants
// are absent. Inactive users never match, regardless of their subscriptions.
func (e *Engine) Match(
	listings map[model.Category][]model.Listing,
	subs map[model.Category][]model.Subscription,
	users map[int64]model.User,
) map[model.Category]map[string][]int64 {
	out := make(map[model.Category]map[string][]int64)

	for cat, catListings := range listings {
		sc, ok := schema.Get(cat)
		if !ok {
			e.mistakes.Add("no schema for category %q", cat)
			continue
		}

		byListing := make(map[string][]int64)
		for i := range catListings {
			l := &catListings[i]
			for _, sub := range subs[cat] {
				if u, ok := users[sub.UserID]; !ok || !u.Active {
					continue
				}
				if !sub.Matchable() {
					continue
				}
				if e.matches(l, &sub, sc) {
					byListing[l.ID] = append(byListing[l.ID], sub.UserID)
				}
			}
		}
		if len(byListing) > 0 {
			out[cat] = byListing
		}
	}
	return out
}

// matches evaluates the predicate chain for one listing/subscription pair.
// Predicates are ordered cheapest-first; the first failure wins.
func (e *Engine) matches(l *model.Listing, sub *model.Subscription, sc schema.Category) bool {
	if !lo.ContainsBy(sub.Cities, func(city string) bool {
		return strings.EqualFold(city, l.Locality())
	}) {
		return false
	}

	if l.Distance > sub.DistanceMax {
		return false
	}

	if !priceRange(sub).Contains(l.Price) {
		return false
	}

	title := strings.ToLower(l.Title)
	for _, word := range sub.ExcludedWords {
		if strings.Contains(title, strings.ToLower(word)) {
			return false
		}
	}

	for _, f := range sc.Fields {
		ok, err := fieldPredicate(l, sub, f)
		if err != nil {
			e.mistakes.Add("ad %s: field %s: %v", l.ID, f.Name, err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func priceRange(sub *model.Subscription) model.Range {
	return model.Range{Min: sub.PriceMin, Max: sub.PriceMax}
}

// fieldPredicate applies one schema field's constraint. An absent listing
// attribute passes, as does an unconstrained subscription field.
func fieldPredicate(l *model.Listing, sub *model.Subscription, f schema.Field) (bool, error) {
	attr, present := l.Attrs[f.Name]

	switch f.Kind {
	case schema.KindRange:
		r, constrained := sub.Ranges[f.Name]
		if !constrained || !present {
			return true, nil
		}
		if attr.Text != "" {
			return false, &BadAttrError{Field: f.Name, Value: attr.Text}
		}
		return r.Contains(attr.Num), nil

	case schema.KindMembership:
		choices := sub.Choices[f.Name]
		if len(choices) == 0 || !present {
			return true, nil
		}
		return lo.ContainsBy(choices, func(c string) bool {
			return strings.EqualFold(c, attr.Text)
		}), nil

	case schema.KindFlag:
		// A flagged listing only reaches users who opted into the flag.
		if present && attr.Set && !sub.Flags[f.Name] {
			return false, nil
		}
		return true, nil
	}
	return true, nil
}

// BadAttrError reports a listing attribute whose stored shape does not fit
// the schema kind declared for its field.
type BadAttrError struct {
	Field string
	Value string
}

func (e *BadAttrError) Error() string {
	return "non-numeric value " + strconv.Quote(e.Value) + " in numeric field " + e.Field
}
