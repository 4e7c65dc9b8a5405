package storage

import (
	"context"
	"time"

	"apartment-ranker/models"
)

// ListingWriter persists cleaned listings.
type ListingWriter interface {
	Upsert(ctx context.Context, listings []*models.Listing) (inserted, updated int, err error)
	MarkInactive(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// ListingReader is the read side used by ranking and reporting.
type ListingReader interface {
	// FetchActiveListings returns a snapshot of active listings for one ranking pass.
	FetchActiveListings(ctx context.Context) ([]*models.Listing, error)
	FetchAll(ctx context.Context, activeOnly bool) ([]*models.Listing, error)
}

// CoordinateWriter records positions resolved while ranking.
type CoordinateWriter interface {
	SaveCoordinates(ctx context.Context, positions map[string]models.Coordinates) error
}

// RawListingWriter is the interface for persisting unprocessed scraped data.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}
