// Package differ classifies freshly fetched listings against per-category
// history. It is a pure function: no I/O, deterministic for identical inputs.
package differ

import (
	"time"

	"github.com/allprecisely/Ad-parser/internal/model"
)

// Diff returns the subset of fresh listings worth surfacing: ads absent from
// history, and ads whose price dropped strictly below the last known price
// (annotated with the old/new pair). Everything else is deduplicated away,
// which guarantees a listing is surfaced at most once per price level.
// Listings posted before the retention cutoff are dropped regardless of
// novelty, so reappearing stale ads do not resurface.
func Diff(fresh []model.Listing, history map[string]int, now time.Time, retention time.Duration) []model.Listing {
	cutoff := now.Add(-retention)

	var out []model.Listing
	for _, l := range fresh {
		if l.PostedAt.Before(cutoff) {
			continue
		}
		last, seen := history[l.ID]
		switch {
		case !seen:
			out = append(out, l)
		case l.Price < last:
			l.PriceLowered = &model.PriceDrop{Old: last, New: l.Price}
			out = append(out, l)
		}
	}
	return out
}
