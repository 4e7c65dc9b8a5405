package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"apartment-ranker/geocoding"
	"apartment-ranker/metrics"
	"apartment-ranker/models"
	"apartment-ranker/utils"
)

// RankerOptions bounds the geocoding work of one ranking pass.
type RankerOptions struct {
	// Concurrency caps simultaneous listing geocodes.
	Concurrency int
	// Timeout bounds geocoding for the whole pass. Listings not resolved in
	// time are ranked without commute.
	Timeout time.Duration
}

// Ranking is the result of one ranking pass.
type Ranking struct {
	Results []models.RankedResult

	// Count is the number of eligible listings, equal to len(Results).
	Count int

	// Filtered is the number of listings removed by hard filters.
	Filtered int

	WorkLocation *models.Coordinates
	Warnings     []string

	// Geocoded holds positions resolved during this pass, keyed by listing URL.
	Geocoded map[string]models.Coordinates
}

// Ranker filters, scores and orders listings for a profile.
type Ranker struct {
	scorer   *Scorer
	geocoder geocoding.Geocoder
	opts     RankerOptions
	logger   *utils.Logger
	metrics  *metrics.Metrics
}

// NewRanker creates a Ranker. geocoder may be nil, in which case only
// listings that carry coordinates get commute estimates. m may be nil.
func NewRanker(scorer *Scorer, geocoder geocoding.Geocoder, opts RankerOptions, logger *utils.Logger, m *metrics.Metrics) *Ranker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = utils.Discard()
	}
	return &Ranker{
		scorer:   scorer,
		geocoder: geocoder,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// Filter returns the listings that pass every hard requirement of profile.
// Unknown bedrooms, bathrooms, sqft or amenities never disqualify.
func Filter(listings []*models.Listing, profile models.PreferenceProfile) []*models.Listing {
	out := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if l != nil && eligible(l, profile) {
			out = append(out, l)
		}
	}
	return out
}

func eligible(l *models.Listing, p models.PreferenceProfile) bool {
	if !l.IsActive {
		return false
	}
	if l.Price < p.MinRent || l.Price > p.MaxRent {
		return false
	}
	if l.Bedrooms != nil && *l.Bedrooms < p.MinBedrooms {
		return false
	}
	if l.Bathrooms != nil && *l.Bathrooms < p.MinBathrooms {
		return false
	}
	if l.Sqft != nil && *l.Sqft < p.MinSqft {
		return false
	}
	if len(p.RequiredAmenities) > 0 && l.HasAmenityData() {
		have := make(map[string]bool, len(l.Amenities))
		for _, a := range l.Amenities {
			have[NormalizeAmenity(a)] = true
		}
		for _, req := range p.RequiredAmenities {
			if !have[req] {
				return false
			}
		}
	}
	return true
}

// Rank runs one ranking pass over a snapshot of listings. Geocoding
// failures degrade single listings and never fail the pass; the only error
// is a context that is already done on entry.
func (r *Ranker) Rank(ctx context.Context, listings []*models.Listing, profile models.PreferenceProfile) (*Ranking, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}
	start := time.Now()

	candidates := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if l != nil {
			candidates = append(candidates, sanitize(l, r.logger))
		}
	}
	eligibleListings := Filter(candidates, profile)
	ranking := &Ranking{Filtered: len(candidates) - len(eligibleListings)}
	r.metrics.AddFiltered(ranking.Filtered)
	r.logger.Info("[rank] %d of %d listings pass filters", len(eligibleListings), len(candidates))

	geoCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		geoCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	if profile.HasWorkAddress() && len(eligibleListings) > 0 {
		if r.geocoder == nil {
			ranking.Warnings = append(ranking.Warnings, "no geocoder configured; commute not scored")
		} else if work, err := r.geocoder.Resolve(geoCtx, profile.WorkAddress); err != nil {
			r.logger.Warn("[rank] work address %q could not be geocoded: %v", profile.WorkAddress, err)
			ranking.Warnings = append(ranking.Warnings, "work address could not be geocoded; commute not scored")
		} else {
			ranking.WorkLocation = &work
		}
	}

	positions := r.locate(geoCtx, eligibleListings, ranking)
	if errors.Is(geoCtx.Err(), context.DeadlineExceeded) {
		missing := 0
		for _, p := range positions {
			if p == nil {
				missing++
			}
		}
		r.logger.Warn("[rank] geocoding timed out after %v; %d listings without position", r.opts.Timeout, missing)
		ranking.Warnings = append(ranking.Warnings,
			fmt.Sprintf("geocoding timed out; %d listings ranked without commute", missing))
	}

	speed := r.scorer.SpeedFor(profile.CommuteMode)
	results := make([]models.RankedResult, len(eligibleListings))
	for i, l := range eligibleListings {
		listing := *l
		var commute *models.CommuteInfo
		if pos := positions[i]; pos != nil {
			listing.Latitude = models.Float(pos.Lat)
			listing.Longitude = models.Float(pos.Lng)
			if ranking.WorkLocation != nil {
				info := geocoding.EstimateCommute(*pos, *ranking.WorkLocation, speed)
				commute = &info
			}
		}

		score, breakdown := r.scorer.Score(&listing, profile, commute)
		results[i] = models.RankedResult{
			Listing:   listing,
			Composite: score,
			Breakdown: breakdown,
			Commute:   commute,
		}
	}

	SortResults(results)
	ranking.Results = results
	ranking.Count = len(results)

	r.metrics.AddScored(len(results))
	r.metrics.ObserveRank(metrics.OutcomeSuccess, time.Since(start).Seconds())
	r.logger.Info("[rank] ranked %d listings in %v", ranking.Count, time.Since(start).Round(time.Millisecond))
	return ranking, nil
}

// locate finds a position for every listing that needs one. Listings with
// stored coordinates are not geocoded. The returned slice is parallel to
// listings; nil marks an unknown position.
func (r *Ranker) locate(ctx context.Context, listings []*models.Listing, ranking *Ranking) []*models.Coordinates {
	positions := make([]*models.Coordinates, len(listings))
	needPositions := ranking.WorkLocation != nil || r.scorer.Config().Location.Center != nil
	if !needPositions {
		return positions
	}

	var (
		mu       sync.Mutex
		failures int
	)
	ranking.Geocoded = make(map[string]models.Coordinates)
	pool := utils.NewWorkerPool(r.opts.Concurrency, 0)
	for i, l := range listings {
		if c, ok := l.Coordinates(); ok {
			positions[i] = &c
			continue
		}
		if r.geocoder == nil {
			continue
		}

		pool.Submit(ctx, func(ctx context.Context) {
			c, err := r.geocoder.Resolve(ctx, l.FullAddress())
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Debug("[rank] listing %d: %v", l.ID, err)
					mu.Lock()
					failures++
					mu.Unlock()
				}
				return
			}
			positions[i] = &c
			mu.Lock()
			ranking.Geocoded[l.ListingURL] = c
			mu.Unlock()
		})
	}
	pool.Wait()

	if failures > 0 {
		r.logger.Warn("[rank] %d listings could not be geocoded", failures)
	}
	return positions
}

// SortResults orders results by composite descending, then price, ID and
// URL ascending, giving a total order for equal scores.
func SortResults(results []models.RankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if a.Listing.Price != b.Listing.Price {
			return a.Listing.Price < b.Listing.Price
		}
		if a.Listing.ID != b.Listing.ID {
			return a.Listing.ID < b.Listing.ID
		}
		return a.Listing.ListingURL < b.Listing.ListingURL
	})
}

// sanitize returns l with malformed optional fields treated as unknown.
// Counts must be finite and non-negative; coordinates must be finite and
// come as a pair.
func sanitize(l *models.Listing, logger *utils.Logger) *models.Listing {
	if !malformed(l) {
		return l
	}
	c := *l
	if badCount(c.Bedrooms) {
		logger.Debug("[rank] listing %d: bedrooms %v treated as unknown", l.ID, *c.Bedrooms)
		c.Bedrooms = nil
	}
	if badCount(c.Bathrooms) {
		logger.Debug("[rank] listing %d: bathrooms %v treated as unknown", l.ID, *c.Bathrooms)
		c.Bathrooms = nil
	}
	if c.Sqft != nil && *c.Sqft < 0 {
		logger.Debug("[rank] listing %d: negative sqft treated as unknown", l.ID)
		c.Sqft = nil
	}
	if badPosition(c.Latitude, c.Longitude) {
		logger.Debug("[rank] listing %d: unusable coordinates treated as unknown", l.ID)
		c.Latitude, c.Longitude = nil, nil
	}
	return &c
}

func malformed(l *models.Listing) bool {
	return badCount(l.Bedrooms) ||
		badCount(l.Bathrooms) ||
		(l.Sqft != nil && *l.Sqft < 0) ||
		badPosition(l.Latitude, l.Longitude)
}

func badCount(v *float64) bool {
	return v != nil && (*v < 0 || !finite(*v))
}

func badPosition(lat, lng *float64) bool {
	if (lat == nil) != (lng == nil) {
		return true
	}
	return lat != nil && (!finite(*lat) || !finite(*lng))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
