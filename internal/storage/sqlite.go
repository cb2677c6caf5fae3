package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetHistory returns the id -> last seen price map for a category.
func (s *SQLite) GetHistory(ctx context.Context, cat model.Category) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, price FROM listings WHERE category = ?`, string(cat),
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history := make(map[string]int)
	for rows.Next() {
		var id string
		var price int
		if err := rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		history[id] = price
	}
	return history, rows.Err()
}

// PersistListings upserts the given listings in one transaction.
func (s *SQLite) PersistListings(ctx context.Context, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO listings
		   (category, id, price, title, location, distance, lat, lon,
		    posted_at, fetched_at, url, description, attrs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (category, id) DO UPDATE SET
		   price = excluded.price,
		   fetched_at = excluded.fetched_at`,
	)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range listings {
		l := &listings[i]
		attrs, err := marshalAttrs(l.Attrs)
		if err != nil {
			return fmt.Errorf("encode attrs of ad %s: %w", l.ID, err)
		}

		var lat, lon *float64
		if l.Coords != nil {
			lat, lon = &l.Coords.Lat, &l.Coords.Lon
		}

		_, err = stmt.ExecContext(ctx,
			string(l.Category), l.ID, l.Price, l.Title, l.Location, l.Distance,
			lat, lon,
			l.PostedAt.UTC().Format(timeLayout), l.FetchedAt.UTC().Format(timeLayout),
			l.URL, l.Description, attrs,
		)
		if err != nil {
			return fmt.Errorf("upsert ad %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

// GetListing returns one stored listing, or sql.ErrNoRows if absent.
func (s *SQLite) GetListing(ctx context.Context, cat model.Category, id string) (*model.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT category, id, price, title, location, distance, lat, lon,
		        posted_at, fetched_at, url, description, attrs
		 FROM listings WHERE category = ? AND id = ?`, string(cat), id,
	)

	var l model.Listing
	var catStr, postedStr, fetchedStr, attrsStr string
	var lat, lon sql.NullFloat64
	err := row.Scan(&catStr, &l.ID, &l.Price, &l.Title, &l.Location, &l.Distance,
		&lat, &lon, &postedStr, &fetchedStr, &l.URL, &l.Description, &attrsStr)
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	l.Category = model.Category(catStr)
	if lat.Valid && lon.Valid {
		l.Coords = &model.Coords{Lat: lat.Float64, Lon: lon.Float64}
	}
	l.PostedAt, _ = time.Parse(timeLayout, postedStr)
	l.FetchedAt, _ = time.Parse(timeLayout, fetchedStr)
	if l.Attrs, err = unmarshalAttrs(attrsStr); err != nil {
		return nil, fmt.Errorf("decode attrs of ad %s: %w", l.ID, err)
	}
	return &l, nil
}

// EvictExpired deletes listings posted before the cutoff.
func (s *SQLite) EvictExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listings WHERE posted_at < ?`, cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("evict expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// GetActiveSubscriptions returns subscriptions of active users grouped by
// category.
func (s *SQLite) GetActiveSubscriptions(ctx context.Context) (map[model.Category][]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.user_id, s.category, s.cities, s.distance_max, s.price_min, s.price_max,
		        s.excluded_words, s.ranges, s.choices, s.flags
		 FROM subscriptions s
		 JOIN users u ON u.id = s.user_id
		 WHERE u.is_active = 1
		 ORDER BY s.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subs := make(map[model.Category][]model.Subscription)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs[sub.Category] = append(subs[sub.Category], sub)
	}
	return subs, rows.Err()
}

// GetUsers returns all known users keyed by id.
func (s *SQLite) GetUsers(ctx context.Context) (map[int64]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, is_active FROM users`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := make(map[int64]model.User)
	for rows.Next() {
		var u model.User
		var active int
		if err := rows.Scan(&u.ID, &active); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Active = active == 1
		users[u.ID] = u
	}
	return users, rows.Err()
}

// GetUserPreferences returns delivery preferences keyed by user id.
func (s *SQLite) GetUserPreferences(ctx context.Context) (map[int64]model.Preferences, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, silent, no_photos, show_location FROM users`,
	)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	prefs := make(map[int64]model.Preferences)
	for rows.Next() {
		var id int64
		var silent, noPhotos, showLocation int
		if err := rows.Scan(&id, &silent, &noPhotos, &showLocation); err != nil {
			return nil, fmt.Errorf("scan preferences: %w", err)
		}
		prefs[id] = model.Preferences{
			Silent:       silent == 1,
			NoPhotos:     noPhotos == 1,
			ShowLocation: showLocation == 1,
		}
	}
	return prefs, rows.Err()
}

// CreateUser inserts a user with their delivery preferences. Users and
// subscriptions are managed out of band, so the write side stays minimal.
func (s *SQLite) CreateUser(ctx context.Context, u model.User, p model.Preferences) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, is_active, silent, no_photos, show_location, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, boolToInt(u.Active), boolToInt(p.Silent), boolToInt(p.NoPhotos),
		boolToInt(p.ShowLocation), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// CreateSubscription inserts a subscription for an existing user.
func (s *SQLite) CreateSubscription(ctx context.Context, sub model.Subscription) error {
	cities, err := json.Marshal(sub.Cities)
	if err != nil {
		return fmt.Errorf("encode cities: %w", err)
	}
	words, err := json.Marshal(sub.ExcludedWords)
	if err != nil {
		return fmt.Errorf("encode excluded words: %w", err)
	}
	ranges, err := json.Marshal(rangesToRecords(sub.Ranges))
	if err != nil {
		return fmt.Errorf("encode ranges: %w", err)
	}
	choices, err := json.Marshal(sub.Choices)
	if err != nil {
		return fmt.Errorf("encode choices: %w", err)
	}
	flags, err := json.Marshal(sub.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions
		   (user_id, category, cities, distance_max, price_min, price_max,
		    excluded_words, ranges, choices, flags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, string(sub.Category), string(cities), sub.DistanceMax,
		sub.PriceMin, sub.PriceMax, string(words), string(ranges),
		string(choices), string(flags), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanSubscription(rows *sql.Rows) (model.Subscription, error) {
	var sub model.Subscription
	var catStr, citiesStr, wordsStr, rangesStr, choicesStr, flagsStr string
	err := rows.Scan(&sub.UserID, &catStr, &citiesStr, &sub.DistanceMax,
		&sub.PriceMin, &sub.PriceMax, &wordsStr, &rangesStr, &choicesStr, &flagsStr)
	if err != nil {
		return sub, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Category = model.Category(catStr)

	if err := json.Unmarshal([]byte(citiesStr), &sub.Cities); err != nil {
		return sub, fmt.Errorf("decode cities: %w", err)
	}
	if err := json.Unmarshal([]byte(wordsStr), &sub.ExcludedWords); err != nil {
		return sub, fmt.Errorf("decode excluded words: %w", err)
	}
	var ranges map[string]rangeRecord
	if err := json.Unmarshal([]byte(rangesStr), &ranges); err != nil {
		return sub, fmt.Errorf("decode ranges: %w", err)
	}
	sub.Ranges = rangesFromRecords(ranges)
	if err := json.Unmarshal([]byte(choicesStr), &sub.Choices); err != nil {
		return sub, fmt.Errorf("decode choices: %w", err)
	}
	if err := json.Unmarshal([]byte(flagsStr), &sub.Flags); err != nil {
		return sub, fmt.Errorf("decode flags: %w", err)
	}
	return sub, nil
}
