// Package source adapts the classifieds site into normalized listing
// records. The pipeline depends on the Adapter contract only; the HTML
// parsing below is a replaceable detail.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/allprecisely/Ad-parser/internal/fetcher"
	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/report"
	"github.com/allprecisely/Ad-parser/internal/schema"
)

// Adapter fetches and parses listings for a category. Both operations go
// through the resilient fetcher; an error means the retry budget was
// exhausted and the caller decides whether to skip or abort.
type Adapter interface {
	// FetchListings downloads the category listing pages and returns the
	// normalized records found on them.
	FetchListings(ctx context.Context, cat model.Category) ([]model.Listing, error)

	// ParseDetail downloads the listing's detail page and merges images,
	// coordinates, description and category-specific attributes into it.
	ParseDetail(ctx context.Context, l *model.Listing) error
}

// Short-term rentals are listed with a nightly price; anything at or below
// this threshold is normalized to a monthly figure for comparable filtering.
const (
	shortTermNightlyMax  = 800
	shortTermMonthFactor = 30
)

// Site is the goquery-backed Adapter for the classifieds site.
type Site struct {
	baseURL  string
	client   *fetcher.Client
	mistakes *report.Collector
	log      *slog.Logger
	now      func() time.Time
}

// NewSite creates a Site adapter rooted at baseURL.
func NewSite(baseURL string, client *fetcher.Client, mistakes *report.Collector, log *slog.Logger) *Site {
	return &Site{
		baseURL:  baseURL,
		client:   client,
		mistakes: mistakes,
		log:      log,
		now:      time.Now,
	}
}

// FetchListings downloads every section of the category and parses the
// announcement records. For rent it additionally walks the short-term
// section, tagging those listings and normalizing nightly prices.
func (s *Site) FetchListings(ctx context.Context, cat model.Category) ([]model.Listing, error) {
	sc, ok := schema.Get(cat)
	if !ok {
		return nil, fmt.Errorf("no schema for category %q", cat)
	}

	listings, err := s.fetchSection(ctx, cat, sc.Path, sc.Query)
	if err != nil {
		return nil, err
	}

	if sc.ShortTermPath != "" {
		shortTerm, err := s.fetchSection(ctx, cat, sc.ShortTermPath, sc.Query)
		if err != nil {
			// The main section already succeeded; a failing extra section
			// is a recorded mistake, not a lost batch.
			s.log.Warn("short-term section failed", "category", cat, "error", err)
		}
		for i := range shortTerm {
			tagShortTerm(&shortTerm[i])
		}
		listings = append(listings, shortTerm...)
	}

	return dedupe(listings), nil
}

func (s *Site) fetchSection(ctx context.Context, cat model.Category, path string, query map[string]string) ([]model.Listing, error) {
	u := s.sectionURL(path, query)
	body, err := s.client.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch listings %s: %w", u, err)
	}
	return s.parseListingsPage(body, cat, u)
}

func (s *Site) sectionURL(path string, query map[string]string) string {
	q := url.Values{}
	for k, v := range query {
		q.Set(k, v)
	}
	return fmt.Sprintf("%s/%s/?%s", s.baseURL, path, q.Encode())
}

func tagShortTerm(l *model.Listing) {
	if l.Attrs == nil {
		l.Attrs = map[string]model.Attr{}
	}
	l.Attrs[schema.FlagShortTerm] = model.FlagAttr()
	if l.Price <= shortTermNightlyMax {
		l.Price *= shortTermMonthFactor
	}
}

// dedupe drops duplicate ids, keeping the first occurrence. The main and
// short-term sections can overlap.
func dedupe(listings []model.Listing) []model.Listing {
	seen := make(map[string]struct{}, len(listings))
	out := listings[:0]
	for _, l := range listings {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		seen[l.ID] = struct{}{}
		out = append(out, l)
	}
	return out
}
