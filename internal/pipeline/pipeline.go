// Package pipeline orchestrates one polling batch over all watched
// categories: fetch, diff against history, enrich, persist, match, dispatch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/allprecisely/Ad-parser/internal/differ"
	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/report"
	"github.com/allprecisely/Ad-parser/internal/source"
	"github.com/allprecisely/Ad-parser/internal/storage"
)

// Enricher resolves detail pages for new listings.
type Enricher interface {
	Enrich(ctx context.Context, listings []model.Listing) []model.Listing
}

// Matcher pairs listings with interested users.
type Matcher interface {
	Match(
		listings map[model.Category][]model.Listing,
		subs map[model.Category][]model.Subscription,
		users map[int64]model.User,
	) map[model.Category]map[string][]int64
}

// Dispatcher delivers matched listings and the end-of-batch mistake report.
type Dispatcher interface {
	Dispatch(
		ctx context.Context,
		matches map[model.Category]map[string][]int64,
		listings map[model.Category][]model.Listing,
		prefs map[int64]model.Preferences,
	)
	Flush(ctx context.Context)
}

// Pipeline runs one batch per invocation.
type Pipeline struct {
	adapter    source.Adapter
	store      storage.Storage
	enricher   Enricher
	matcher    Matcher
	dispatcher Dispatcher
	mistakes   *report.Collector
	log        *slog.Logger

	retention time.Duration
	timeout   time.Duration
	excluded  map[model.Category]bool
	now       func() time.Time
}

// Options carries the batch parameters.
type Options struct {
	Retention time.Duration
	Timeout   time.Duration
	Excluded  []model.Category
}

// New assembles a Pipeline from its stages.
func New(
	adapter source.Adapter,
	store storage.Storage,
	enricher Enricher,
	matcher Matcher,
	dispatcher Dispatcher,
	mistakes *report.Collector,
	log *slog.Logger,
	opts Options,
) *Pipeline {
	excluded := make(map[model.Category]bool, len(opts.Excluded))
	for _, cat := range opts.Excluded {
		excluded[cat] = true
	}
	return &Pipeline{
		adapter:    adapter,
		store:      store,
		enricher:   enricher,
		matcher:    matcher,
		dispatcher: dispatcher,
		mistakes:   mistakes,
		log:        log,
		retention:  opts.Retention,
		timeout:    opts.Timeout,
		excluded:   excluded,
		now:        time.Now,
	}
}

// Run executes one batch. A returned error means persistence failed and the
// process should exit non-zero; every other failure is recorded as a mistake
// and reported to the operator chat at the end of the batch.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	now := p.now().UTC()

	evicted, err := p.store.EvictExpired(ctx, now.Add(-p.retention))
	if err != nil {
		return fmt.Errorf("evict expired listings: %w", err)
	}
	if evicted > 0 {
		p.log.Info("evicted expired listings", "count", evicted)
	}

	subs, err := p.store.GetActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	users, err := p.store.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	prefs, err := p.store.GetUserPreferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	fresh := make(map[model.Category][]model.Listing)
	for _, cat := range model.Categories() {
		if p.excluded[cat] {
			p.log.Debug("category excluded", "category", cat)
			continue
		}
		if ctx.Err() != nil {
			p.mistakes.Add("batch aborted: %v", ctx.Err())
			break
		}

		listings, err := p.processCategory(ctx, cat, now)
		if err != nil {
			return err
		}
		if len(listings) > 0 {
			fresh[cat] = listings
		}
	}

	matches := p.matcher.Match(fresh, subs, users)
	p.dispatcher.Dispatch(ctx, matches, fresh, prefs)
	p.dispatcher.Flush(ctx)
	return nil
}

// processCategory runs the per-category stages and returns the enriched new
// listings. Fetch and enrichment failures degrade to mistakes; a storage
// failure aborts the batch.
func (p *Pipeline) processCategory(ctx context.Context, cat model.Category, now time.Time) ([]model.Listing, error) {
	history, err := p.store.GetHistory(ctx, cat)
	if err != nil {
		return nil, fmt.Errorf("load %s history: %w", cat, err)
	}

	scraped, err := p.adapter.FetchListings(ctx, cat)
	if err != nil {
		// The site is flaky; skip the category and let the next run catch up.
		p.mistakes.Add("fetch %s listings: %v", cat, err)
		return nil, nil
	}
	p.log.Debug("fetched listings", "category", cat, "count", len(scraped))

	news := differ.Diff(scraped, history, now, p.retention)
	if len(news) == 0 {
		return nil, nil
	}

	enriched := p.enricher.Enrich(ctx, news)

	// Persisting before dispatch keeps delivery at-most-once: a crash after
	// this point loses notifications instead of repeating them.
	if err := p.store.PersistListings(ctx, enriched); err != nil {
		return nil, fmt.Errorf("persist %s listings: %w", cat, err)
	}

	p.log.Info("new listings", "category", cat, "count", len(enriched))
	return enriched, nil
}
