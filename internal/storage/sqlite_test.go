package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/samber/lo"

	"github.com/allprecisely/Ad-parser/internal/model"
)

var ignoreFetchedAt = cmpopts.IgnoreFields(model.Listing{}, "FetchedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testListing(id string, price int, postedAt time.Time) model.Listing {
	return model.Listing{
		ID:        id,
		Category:  model.CategoryRent,
		Price:     price,
		Title:     "Flat " + id,
		Location:  "Limassol district, Germasogeia",
		Distance:  3.2,
		Coords:    &model.Coords{Lat: 34.684, Lon: 33.046},
		PostedAt:  postedAt.UTC().Truncate(time.Second),
		FetchedAt: time.Now().UTC().Truncate(time.Second),
		URL:       "https://example.com/adv/" + id,
		Images:    nil,
		Attrs: map[string]model.Attr{
			"area":     model.NumAttr(85),
			"bedrooms": model.TextAttr("2"),
		},
	}
}

func TestPersistAndGetListing(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	posted := time.Now().UTC().Add(-time.Hour)
	want := testListing("100", 1200, posted)
	if err := s.PersistListings(ctx, []model.Listing{want}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	got, err := s.GetListing(ctx, model.CategoryRent, "100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(want, *got, ignoreFetchedAt); diff != "" {
		t.Errorf("GetListing mismatch (-want +got):\n%s", diff)
	}
}

func TestGetHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	posted := time.Now().UTC().Add(-time.Hour)
	car := testListing("300", 9000, posted)
	car.Category = model.CategoryCars

	listings := []model.Listing{
		testListing("100", 1200, posted),
		testListing("200", 650, posted),
		car,
	}
	if err := s.PersistListings(ctx, listings); err != nil {
		t.Fatalf("persist: %v", err)
	}

	got, err := s.GetHistory(ctx, model.CategoryRent)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	want := map[string]int{"100": 1200, "200": 650}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestPersistListingsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	posted := time.Now().UTC().Add(-time.Hour)
	l := testListing("100", 1200, posted)
	if err := s.PersistListings(ctx, []model.Listing{l}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Replaying the same ad with a lower price updates it in place.
	l.Price = 1000
	if err := s.PersistListings(ctx, []model.Listing{l}); err != nil {
		t.Fatalf("persist again: %v", err)
	}

	history, err := s.GetHistory(ctx, model.CategoryRent)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"100": 1000}, history); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestEvictExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	now := time.Now().UTC()
	listings := []model.Listing{
		testListing("old", 500, now.AddDate(0, 0, -20)),
		testListing("fresh", 700, now.AddDate(0, 0, -2)),
	}
	if err := s.PersistListings(ctx, listings); err != nil {
		t.Fatalf("persist: %v", err)
	}

	n, err := s.EvictExpired(ctx, now.AddDate(0, 0, -14))
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 1 {
		t.Errorf("evicted %d listings, want 1", n)
	}

	history, err := s.GetHistory(ctx, model.CategoryRent)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"fresh": 700}, history); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestActiveSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.CreateUser(ctx, model.User{ID: 1, Active: true}, model.Preferences{}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, model.User{ID: 2, Active: false}, model.Preferences{}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	active := model.Subscription{
		UserID:        1,
		Category:      model.CategoryRent,
		Cities:        []string{"Limassol"},
		DistanceMax:   10,
		PriceMin:      lo.ToPtr(500),
		PriceMax:      lo.ToPtr(1500),
		ExcludedWords: []string{"office"},
		Ranges:        map[string]model.Range{"area": {Min: lo.ToPtr(50)}},
		Choices:       map[string][]string{"bedrooms": {"1", "2"}},
		Flags:         map[string]bool{"short_term": true},
	}
	dormant := model.Subscription{
		UserID:      2,
		Category:    model.CategoryRent,
		Cities:      []string{"Nicosia"},
		DistanceMax: 5,
	}
	for _, sub := range []model.Subscription{active, dormant} {
		if err := s.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("create subscription: %v", err)
		}
	}

	got, err := s.GetActiveSubscriptions(ctx)
	if err != nil {
		t.Fatalf("get subscriptions: %v", err)
	}

	want := map[model.Category][]model.Subscription{
		model.CategoryRent: {active},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("subscriptions mismatch (-want +got):\n%s", diff)
	}
}

func TestUsersAndPreferences(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.CreateUser(ctx, model.User{ID: 1, Active: true},
		model.Preferences{Silent: true, ShowLocation: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, model.User{ID: 2, Active: false},
		model.Preferences{NoPhotos: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	users, err := s.GetUsers(ctx)
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	wantUsers := map[int64]model.User{
		1: {ID: 1, Active: true},
		2: {ID: 2, Active: false},
	}
	if diff := cmp.Diff(wantUsers, users); diff != "" {
		t.Errorf("users mismatch (-want +got):\n%s", diff)
	}

	prefs, err := s.GetUserPreferences(ctx)
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	wantPrefs := map[int64]model.Preferences{
		1: {Silent: true, ShowLocation: true},
		2: {NoPhotos: true},
	}
	if diff := cmp.Diff(wantPrefs, prefs); diff != "" {
		t.Errorf("preferences mismatch (-want +got):\n%s", diff)
	}
}

// Ensure the Storage interface is satisfied.
var _ Storage = (*SQLite)(nil)
