package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"apartment-ranker/models"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open(context.Background(), DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleListing(url string, price int) *models.Listing {
	return &models.Listing{
		Address:    "500 E Grand Ave",
		City:       "Des Moines",
		State:      "IA",
		Zip:        "50309",
		Price:      price,
		Bedrooms:   models.Float(1),
		Bathrooms:  models.Float(1.5),
		ListingURL: url,
		Source:     models.SourceZillow,
		IsActive:   true,
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestUpsertInsertsAndFetches(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := sampleListing("https://www.zillow.com/a", 1100)
	a.Amenities = []string{"parking", "dishwasher"}
	a.Latitude, a.Longitude = models.Float(41.5907), models.Float(-93.608)
	b := sampleListing("https://www.zillow.com/b", 900)
	b.Bedrooms = nil

	inserted, updated, err := s.Upsert(ctx, []*models.Listing{a, b})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if inserted != 2 || updated != 0 {
		t.Errorf("inserted/updated = %d/%d; want 2/0", inserted, updated)
	}

	got, err := s.FetchActiveListings(ctx)
	if err != nil {
		t.Fatalf("FetchActiveListings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("fetched %d listings; want 2", len(got))
	}

	// ordered by price
	if got[0].ListingURL != b.ListingURL {
		t.Errorf("first listing = %s; want the cheaper one", got[0].ListingURL)
	}
	if got[0].Bedrooms != nil {
		t.Errorf("unknown bedrooms came back as %v", *got[0].Bedrooms)
	}
	if got[0].Amenities != nil {
		t.Errorf("unknown amenities came back as %v", got[0].Amenities)
	}
	if got[0].Sqft != nil {
		t.Errorf("unknown sqft came back as %v", *got[0].Sqft)
	}

	second := got[1]
	if second.ID == 0 || second.Price != 1100 || *second.Bathrooms != 1.5 {
		t.Errorf("listing = %+v", second)
	}
	if len(second.Amenities) != 2 || second.Amenities[1] != "dishwasher" {
		t.Errorf("Amenities = %v", second.Amenities)
	}
	if pos, ok := second.Coordinates(); !ok || pos.Lat != 41.5907 {
		t.Errorf("Coordinates = %v, %v", pos, ok)
	}
	if second.Source != models.SourceZillow || !second.IsActive {
		t.Errorf("Source/IsActive = %q/%v", second.Source, second.IsActive)
	}
	if second.FirstSeen.IsZero() || !second.FirstSeen.Equal(second.LastSeen) {
		t.Errorf("seen times = %v / %v", second.FirstSeen, second.LastSeen)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }
	l := sampleListing("https://www.zillow.com/a", 1100)
	l.Amenities = []string{"pool"}
	if _, _, err := s.Upsert(ctx, []*models.Listing{l}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	later := first.Add(72 * time.Hour)
	s.now = func() time.Time { return later }
	if n, err := s.MarkInactive(ctx, 48*time.Hour); err != nil || n != 1 {
		t.Fatalf("MarkInactive = %d, %v; want 1", n, err)
	}

	refreshed := sampleListing("https://www.zillow.com/a", 1050)
	refreshed.Sqft = models.Int(720)
	inserted, updated, err := s.Upsert(ctx, []*models.Listing{refreshed})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if inserted != 0 || updated != 1 {
		t.Errorf("inserted/updated = %d/%d; want 0/1", inserted, updated)
	}

	all, err := s.FetchAll(ctx, false)
	if err != nil || len(all) != 1 {
		t.Fatalf("FetchAll = %d listings, %v", len(all), err)
	}
	got := all[0]
	if !got.IsActive {
		t.Error("refreshed listing should be reactivated")
	}
	if got.Price != 1050 || got.Sqft == nil || *got.Sqft != 720 {
		t.Errorf("price/sqft not refreshed: %+v", got)
	}
	if !got.FirstSeen.Equal(first) || !got.LastSeen.Equal(later) {
		t.Errorf("first/last seen = %v / %v; want %v / %v", got.FirstSeen, got.LastSeen, first, later)
	}
	if len(got.Amenities) != 1 || got.Amenities[0] != "pool" {
		t.Errorf("unknown amenities should keep the stored set, got %v", got.Amenities)
	}
}

func TestMarkInactive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	stale := sampleListing("https://www.zillow.com/stale", 1000)
	stale.LastSeen = now.Add(-3 * 24 * time.Hour)
	fresh := sampleListing("https://www.zillow.com/fresh", 1000)
	fresh.LastSeen = now.Add(-time.Hour)
	if _, _, err := s.Upsert(ctx, []*models.Listing{stale, fresh}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := s.MarkInactive(ctx, 2*24*time.Hour)
	if err != nil {
		t.Fatalf("MarkInactive: %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d; want 1", n)
	}

	active, err := s.FetchActiveListings(ctx)
	if err != nil {
		t.Fatalf("FetchActiveListings: %v", err)
	}
	if len(active) != 1 || active[0].ListingURL != fresh.ListingURL {
		t.Errorf("active = %v; want only the fresh listing", active)
	}

	all, _ := s.FetchAll(ctx, false)
	if len(all) != 2 {
		t.Errorf("FetchAll(false) = %d; want 2", len(all))
	}

	if n, _ := s.MarkInactive(ctx, 2*24*time.Hour); n != 0 {
		t.Errorf("second MarkInactive changed %d rows; want 0", n)
	}
}

func TestSaveCoordinates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	l := sampleListing("https://www.zillow.com/a", 1000)
	if _, _, err := s.Upsert(ctx, []*models.Listing{l}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	err := s.SaveCoordinates(ctx, map[string]models.Coordinates{
		l.ListingURL:               {Lat: 41.59, Lng: -93.61},
		"https://www.zillow.com/x": {Lat: 1, Lng: 1},
	})
	if err != nil {
		t.Fatalf("SaveCoordinates: %v", err)
	}

	got, _ := s.FetchActiveListings(ctx)
	if pos, ok := got[0].Coordinates(); !ok || pos.Lng != -93.61 {
		t.Errorf("Coordinates = %v, %v", pos, ok)
	}
}

func TestUpsertEmpty(t *testing.T) {
	s := setupTestStore(t)
	if i, u, err := s.Upsert(context.Background(), nil); i != 0 || u != 0 || err != nil {
		t.Errorf("Upsert(nil) = %d, %d, %v", i, u, err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
