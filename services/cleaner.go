package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"apartment-ranker/models"
	"apartment-ranker/utils"
)

var (
	// priceRegexp captures the first numeric amount, e.g. "1,200" in "$1,200+/mo"
	priceRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// numberRegexp captures a decimal count such as "2.5" in "2.5 ba"
	numberRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// studioRegexp matches studio units, which have zero bedrooms
	studioRegexp = regexp.MustCompile(`(?i)\bstudio\b`)
)

// Cleaner transforms RawListings into Listings ready for storage.
// Fields that cannot be parsed are left unknown rather than zeroed.
type Cleaner struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger, now: time.Now}
}

// Clean processes raw listings and returns cleaned records. Listings without
// a URL, address or price are dropped; duplicate URLs keep the first copy.
func (c *Cleaner) Clean(raw []*models.RawListing) []*models.Listing {
	seen := utils.NewURLSet()
	result := make([]*models.Listing, 0, len(raw))

	for _, r := range raw {
		url := strings.TrimSpace(r.URL)
		if url == "" {
			c.logger.Warn("[cleaner] Dropping listing with empty URL: %s", r.Address)
			continue
		}
		if !seen.Add(url) {
			c.logger.Debug("[cleaner] Duplicate URL skipped: %s", url)
			continue
		}

		address := normaliseText(r.Address)
		if address == "" {
			c.logger.Warn("[cleaner] Dropping listing without address: %s", url)
			continue
		}
		price, ok := c.parsePrice(r.RawPrice)
		if !ok {
			c.logger.Warn("[cleaner] Dropping listing with unparseable price %q: %s", r.RawPrice, url)
			continue
		}

		seenAt := r.ScrapedAt
		if seenAt.IsZero() {
			seenAt = c.now()
		}

		result = append(result, &models.Listing{
			Address:    address,
			City:       normaliseText(r.City),
			State:      strings.ToUpper(normaliseText(r.State)),
			Zip:        normaliseText(r.Zip),
			Price:      price,
			Bedrooms:   c.parseBedrooms(r.RawBeds),
			Bathrooms:  c.parseCount(r.RawBaths),
			Sqft:       c.parseSqft(r.RawSqft),
			ListingURL: url,
			Source:     normaliseSource(r.Source),
			FirstSeen:  seenAt,
			LastSeen:   seenAt,
			IsActive:   true,
		})
	}

	c.logger.Info("[cleaner] Cleaned %d → %d listings (dropped %d)",
		len(raw), len(result), len(raw)-len(result))
	return result
}

// parsePrice extracts a monthly rent in whole dollars.
// Examples:
//
//	"$1,200/mo"  → 1200
//	"$1,200+"    → 1200
//	"$950.50"    → 951
func (c *Cleaner) parsePrice(raw string) (int, bool) {
	match := priceRegexp.FindString(raw)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int(math.Round(v)), true
}

// parseBedrooms is parseCount with "Studio" mapped to zero.
func (c *Cleaner) parseBedrooms(raw string) *float64 {
	if studioRegexp.MatchString(raw) {
		return models.Float(0)
	}
	return c.parseCount(raw)
}

// parseCount extracts a non-negative decimal such as "2 bds" or "1.5".
func (c *Cleaner) parseCount(raw string) *float64 {
	match := numberRegexp.FindString(raw)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return models.Float(v)
}

// parseSqft extracts a positive square footage such as "1,050 sqft".
func (c *Cleaner) parseSqft(raw string) *int {
	match := priceRegexp.FindString(raw)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil || v <= 0 {
		return nil
	}
	return models.Int(int(math.Round(v)))
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

func normaliseSource(s string) models.Source {
	src := models.Source(strings.ToLower(strings.TrimSpace(s)))
	switch src {
	case models.SourceZillow, models.SourceApartments, models.SourceCraigslist:
		return src
	}
	return models.SourceManual
}
