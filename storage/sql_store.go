package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"apartment-ranker/models"
)

// Supported database/sql drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQLStore keeps listings in the apartments table. It runs on PostgreSQL
// in production and SQLite for local use and tests. Queries use $N
// placeholders, which both drivers accept.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database, waits for it to answer and runs schema
// migrations.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single connection keeps in-memory databases and writes consistent
		db.SetMaxOpenConns(1)
	}

	attempts := 10
	if driver == DriverSQLite {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				_ = db.Close()
				return nil, fmt.Errorf("%s: ping: %w", driver, ctx.Err())
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping failed after retries: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", driver, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	idColumn := "id SERIAL PRIMARY KEY"
	tsType := "TIMESTAMPTZ"
	if s.driver == DriverSQLite {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
		tsType = "TIMESTAMP"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS apartments (
			%s,
			address     TEXT    NOT NULL,
			city        TEXT    NOT NULL DEFAULT '',
			state       TEXT    NOT NULL DEFAULT '',
			zip_code    TEXT    NOT NULL DEFAULT '',
			price       INTEGER NOT NULL DEFAULT 0,
			bedrooms    DOUBLE PRECISION,
			bathrooms   DOUBLE PRECISION,
			sqft        INTEGER,
			listing_url TEXT    UNIQUE NOT NULL,
			source      TEXT    NOT NULL,
			amenities   TEXT,
			description TEXT    NOT NULL DEFAULT '',
			latitude    DOUBLE PRECISION,
			longitude   DOUBLE PRECISION,
			first_seen  %s NOT NULL,
			last_seen   %s NOT NULL,
			is_active   BOOLEAN NOT NULL DEFAULT TRUE
		)`, idColumn, tsType, tsType),
		`CREATE INDEX IF NOT EXISTS idx_apartments_price  ON apartments(price)`,
		`CREATE INDEX IF NOT EXISTS idx_apartments_active ON apartments(is_active)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert inserts new listings and refreshes existing ones, matched by
// listing URL. A refreshed listing is reactivated and its last_seen,
// price, size, amenities and description updated; first_seen is kept.
func (s *SQLStore) Upsert(ctx context.Context, listings []*models.Listing) (inserted, updated int, err error) {
	if len(listings) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: begin: %w", s.driver, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.timestamp(s.now())
	for _, l := range listings {
		amenities, err := encodeAmenities(l.Amenities)
		if err != nil {
			return 0, 0, fmt.Errorf("%s: encode amenities for %s: %w", s.driver, l.ListingURL, err)
		}
		seen := s.timestamp(l.LastSeen)
		if l.LastSeen.IsZero() {
			seen = now
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE apartments
			SET price = $1, bedrooms = $2, bathrooms = $3, sqft = $4,
			    amenities = COALESCE($5, amenities), description = $6,
			    last_seen = $7, is_active = $8
			WHERE listing_url = $9`,
			l.Price, nullFloat(l.Bedrooms), nullFloat(l.Bathrooms), nullInt(l.Sqft),
			amenities, l.Description, seen, true, l.ListingURL)
		if err != nil {
			return 0, 0, fmt.Errorf("%s: update %s: %w", s.driver, l.ListingURL, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
			continue
		}

		first := s.timestamp(l.FirstSeen)
		if l.FirstSeen.IsZero() {
			first = seen
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO apartments (
				address, city, state, zip_code, price, bedrooms, bathrooms, sqft,
				listing_url, source, amenities, description, latitude, longitude,
				first_seen, last_seen, is_active
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			l.Address, l.City, l.State, l.Zip, l.Price,
			nullFloat(l.Bedrooms), nullFloat(l.Bathrooms), nullInt(l.Sqft),
			l.ListingURL, string(l.Source), amenities, l.Description,
			nullFloat(l.Latitude), nullFloat(l.Longitude),
			first, seen, true)
		if err != nil {
			return 0, 0, fmt.Errorf("%s: insert %s: %w", s.driver, l.ListingURL, err)
		}
		inserted++
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%s: commit: %w", s.driver, err)
	}
	return inserted, updated, nil
}

const selectColumns = `
	SELECT id, address, city, state, zip_code, price, bedrooms, bathrooms, sqft,
	       listing_url, source, amenities, description, latitude, longitude,
	       first_seen, last_seen, is_active
	FROM apartments`

// FetchActiveListings returns all active listings.
func (s *SQLStore) FetchActiveListings(ctx context.Context) ([]*models.Listing, error) {
	return s.FetchAll(ctx, true)
}

// FetchAll returns stored listings ordered by price, then id.
func (s *SQLStore) FetchAll(ctx context.Context, activeOnly bool) ([]*models.Listing, error) {
	query := selectColumns
	var args []any
	if activeOnly {
		query += " WHERE is_active = $1"
		args = append(args, true)
	}
	query += " ORDER BY price ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch all: %w", s.driver, err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", s.driver, err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// MarkInactive deactivates active listings whose last_seen is older than
// olderThan and returns how many were changed.
func (s *SQLStore) MarkInactive(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.timestamp(s.now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, `
		UPDATE apartments SET is_active = $1
		WHERE is_active = $2 AND last_seen <= $3`,
		false, true, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: mark inactive: %w", s.driver, err)
	}
	return res.RowsAffected()
}

// SaveCoordinates stores positions keyed by listing URL.
func (s *SQLStore) SaveCoordinates(ctx context.Context, positions map[string]models.Coordinates) error {
	if len(positions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.driver, err)
	}
	for url, c := range positions {
		if _, err := tx.ExecContext(ctx,
			`UPDATE apartments SET latitude = $1, longitude = $2 WHERE listing_url = $3`,
			c.Lat, c.Lng, url); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: save coordinates %s: %w", s.driver, url, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.driver, err)
	}
	return nil
}

// timestamp normalises t to whole UTC seconds so stored values compare
// correctly as text on SQLite.
func (s *SQLStore) timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var (
		l                   models.Listing
		source              string
		beds, baths         sql.NullFloat64
		lat, lng            sql.NullFloat64
		sqft                sql.NullInt64
		amenities           sql.NullString
		firstSeen, lastSeen time.Time
	)
	if err := row.Scan(
		&l.ID, &l.Address, &l.City, &l.State, &l.Zip, &l.Price, &beds, &baths, &sqft,
		&l.ListingURL, &source, &amenities, &l.Description, &lat, &lng,
		&firstSeen, &lastSeen, &l.IsActive,
	); err != nil {
		return nil, err
	}

	l.Source = models.Source(source)
	l.FirstSeen, l.LastSeen = firstSeen.UTC(), lastSeen.UTC()
	if beds.Valid {
		l.Bedrooms = models.Float(beds.Float64)
	}
	if baths.Valid {
		l.Bathrooms = models.Float(baths.Float64)
	}
	if sqft.Valid {
		l.Sqft = models.Int(int(sqft.Int64))
	}
	if lat.Valid && lng.Valid {
		l.Latitude, l.Longitude = models.Float(lat.Float64), models.Float(lng.Float64)
	}
	if amenities.Valid && strings.TrimSpace(amenities.String) != "" {
		if err := json.Unmarshal([]byte(amenities.String), &l.Amenities); err != nil {
			return nil, fmt.Errorf("amenities of %s: %w", l.ListingURL, err)
		}
		if l.Amenities == nil {
			l.Amenities = []string{}
		}
	}
	return &l, nil
}

// encodeAmenities stores a known set as JSON and an unknown set as NULL.
func encodeAmenities(a []string) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
