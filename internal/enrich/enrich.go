// Package enrich fills in detail-page fields for freshly discovered listings.
package enrich

import (
	"context"
	"log/slog"
	"sync"

	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/report"
	"github.com/allprecisely/Ad-parser/internal/source"
)

const defaultWorkers = 4

// Enricher downloads and merges detail pages over a bounded worker pool.
type Enricher struct {
	adapter  source.Adapter
	workers  int
	mistakes *report.Collector
	log      *slog.Logger
}

// New creates an Enricher running at most workers concurrent detail fetches.
func New(adapter source.Adapter, workers int, mistakes *report.Collector, log *slog.Logger) *Enricher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Enricher{
		adapter:  adapter,
		workers:  workers,
		mistakes: mistakes,
		log:      log,
	}
}

// Enrich resolves detail pages for all listings concurrently and returns the
// ones that succeeded, preserving input order. A failed listing is recorded
// as a mistake and dropped from the batch; since it is not persisted either,
// it comes back as new on the next run and gets another chance.
func (e *Enricher) Enrich(ctx context.Context, listings []model.Listing) []model.Listing {
	if len(listings) == 0 {
		return nil
	}

	done := make([]bool, len(listings))
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

loop:
	for i := range listings {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			e.mistakes.Add("enrich cancelled: %v", ctx.Err())
			break loop
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			l := &listings[i]
			if err := e.adapter.ParseDetail(ctx, l); err != nil {
				e.mistakes.Add("enrich ad %s: %v", l.ID, err)
				return
			}
			done[i] = true
		}(i)
	}
	wg.Wait()

	out := keep(listings, done)
	e.log.Debug("enriched listings", "total", len(listings), "kept", len(out))
	return out
}

func keep(listings []model.Listing, done []bool) []model.Listing {
	out := make([]model.Listing, 0, len(listings))
	for i, ok := range done {
		if ok {
			out = append(out, listings[i])
		}
	}
	return out
}
