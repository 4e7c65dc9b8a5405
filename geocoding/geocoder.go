package geocoding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"apartment-ranker/models"
)

var (
	// ErrEmptyAddress is returned for blank input.
	ErrEmptyAddress = errors.New("empty address")
	// ErrNotFound means the provider answered but knows no such place.
	ErrNotFound = errors.New("address not found")
	// ErrProviderUnavailable covers transport failures and provider errors.
	ErrProviderUnavailable = errors.New("geocoding provider unavailable")
)

// Geocoder resolves a free-form address to coordinates. Implementations fail
// explicitly and never return a zero location in place of an error.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (models.Coordinates, error)
}

// GeocodeError reports a failed resolution of one address.
type GeocodeError struct {
	Address string
	Err     error
}

func (e *GeocodeError) Error() string {
	return fmt.Sprintf("geocode %q: %v", e.Address, e.Err)
}

func (e *GeocodeError) Unwrap() error { return e.Err }

// NormalizeAddress produces the cache key for an address: NFKC-normalised,
// lower-cased, with runs of whitespace collapsed.
func NormalizeAddress(address string) string {
	s := norm.NFKC.String(address)
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}
