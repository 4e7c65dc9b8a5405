package models

import (
	"strings"
	"time"
)

// Source identifies the site a listing was acquired from.
type Source string

const (
	SourceZillow     Source = "zillow"
	SourceApartments Source = "apartments"
	SourceCraigslist Source = "craigslist"
	SourceManual     Source = "manual"
)

// RawListing holds unprocessed scraped data straight from the search page.
// Every field is kept as text so it can be written to CSV before any cleaning.
type RawListing struct {
	ExternalID string
	Address    string
	City       string
	State      string
	Zip        string
	RawPrice   string
	RawBeds    string
	RawBaths   string
	RawSqft    string
	URL        string
	Source     string
	ScrapedAt  time.Time
}

// Listing is one cleaned rental unit record as stored in the apartments table.
// Nil pointer fields mean the value is unknown, which is distinct from zero.
type Listing struct {
	ID          int64     `json:"id"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Zip         string    `json:"zip_code,omitempty"`
	Price       int       `json:"price"`
	Bedrooms    *float64  `json:"bedrooms"`
	Bathrooms   *float64  `json:"bathrooms"`
	Sqft        *int      `json:"sqft"`
	ListingURL  string    `json:"listing_url"`
	Source      Source    `json:"source"`
	Amenities   []string  `json:"amenities"`
	Description string    `json:"description,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	IsActive    bool      `json:"is_active"`
}

// FullAddress joins the street address with city, state and zip for geocoding.
// Components already present in the street address are not repeated.
func (l *Listing) FullAddress() string {
	addr := strings.TrimSpace(l.Address)
	lower := strings.ToLower(addr)

	parts := []string{}
	if addr != "" {
		parts = append(parts, addr)
	}
	if l.City != "" && !strings.Contains(lower, strings.ToLower(l.City)) {
		parts = append(parts, l.City)
	}
	tail := strings.TrimSpace(l.State + " " + l.Zip)
	if l.State != "" && strings.Contains(lower, strings.ToLower(l.State)) {
		tail = ""
	}
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// Coordinates returns the stored position of the listing, if it has one.
func (l *Listing) Coordinates() (Coordinates, bool) {
	if l.Latitude == nil || l.Longitude == nil {
		return Coordinates{}, false
	}
	return Coordinates{Lat: *l.Latitude, Lng: *l.Longitude}, true
}

// HasAmenityData reports whether the amenity set of the listing is known.
func (l *Listing) HasAmenityData() bool {
	return l.Amenities != nil
}

// Float returns a pointer to v, for building optional listing fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building optional listing fields.
func Int(v int) *int { return &v }
