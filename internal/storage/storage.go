// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"github.com/allprecisely/Ad-parser/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// GetHistory returns the id -> last seen price map for a category.
	GetHistory(ctx context.Context, cat model.Category) (map[string]int, error)

	// PersistListings upserts listings. Re-persisting an already stored
	// listing updates its price and fetch time and is otherwise a no-op, so
	// a crashed batch can safely be replayed.
	PersistListings(ctx context.Context, listings []model.Listing) error

	// EvictExpired deletes listings posted before the cutoff and returns
	// how many were removed.
	EvictExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// GetActiveSubscriptions returns the subscriptions of active users,
	// grouped by category.
	GetActiveSubscriptions(ctx context.Context) (map[model.Category][]model.Subscription, error)

	// GetUsers returns all known users keyed by id.
	GetUsers(ctx context.Context) (map[int64]model.User, error)

	// GetUserPreferences returns delivery preferences keyed by user id.
	GetUserPreferences(ctx context.Context) (map[int64]model.Preferences, error)

	Close() error
}
