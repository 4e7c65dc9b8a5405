package services

import (
	"fmt"
	"math"
	"strings"

	"apartment-ranker/config"
	"apartment-ranker/geocoding"
	"apartment-ranker/models"
)

// Scorer computes the composite score and breakdown of one listing against
// one profile. It holds only its calibration, so a Scorer is safe for
// concurrent use and independent Scorers can run side by side.
type Scorer struct {
	cfg config.Scoring
}

// NewScorer creates a Scorer for the given calibration.
func NewScorer(cfg config.Scoring) *Scorer {
	return &Scorer{cfg: cfg}
}

// Config returns the calibration of the scorer.
func (s *Scorer) Config() config.Scoring {
	return s.cfg
}

// SpeedFor returns the assumed average speed for mode, falling back to the
// default mode.
func (s *Scorer) SpeedFor(mode models.CommuteMode) float64 {
	if v, ok := s.cfg.Commute.SpeedsMph[string(mode)]; ok {
		return v
	}
	return s.cfg.Commute.SpeedsMph[s.cfg.Commute.DefaultMode]
}

// Score evaluates listing under profile. commute is nil when no estimate is
// available. Criteria that do not apply to the listing are left out of the
// breakdown and the composite is the weighted mean of the rest, with weights
// re-normalised to sum to 1. Sub-scores and the composite are rounded to one
// decimal place.
func (s *Scorer) Score(listing *models.Listing, profile models.PreferenceProfile, commute *models.CommuteInfo) (float64, models.ScoreBreakdown) {
	weights := s.cfg.Weights
	if profile.Weights != nil {
		weights = *profile.Weights
	}

	breakdown := make(models.ScoreBreakdown, len(models.Criteria))

	if profile.HasWorkAddress() && commute != nil {
		breakdown[models.CriterionCommute] = models.CriterionScore{
			Score: decay(s.cfg.Commute.Curve, commute.EstimatedMinutes, s.cfg.Commute.FullScoreMinutes, s.cfg.Commute.MaxMinutes),
			Raw: map[string]float64{
				"distance_miles":    commute.DistanceMiles,
				"estimated_minutes": commute.EstimatedMinutes,
			},
			Info: fmt.Sprintf("%.1f mi (~%.0f min)", commute.DistanceMiles, commute.EstimatedMinutes),
		}
	}

	breakdown[models.CriterionPrice] = s.scorePrice(listing, profile)
	breakdown[models.CriterionSize] = s.scoreSize(listing, profile)

	if len(profile.PreferredAmenities) > 0 {
		breakdown[models.CriterionAmenities] = s.scoreAmenities(listing, profile)
	}

	if cs, ok := s.scoreLocation(listing); ok {
		breakdown[models.CriterionLocation] = cs
	}

	for c, cs := range breakdown {
		if weights.For(c) <= 0 {
			delete(breakdown, c)
			continue
		}
		cs.Score = clampScore(geocoding.RoundTo(cs.Score, 1))
		breakdown[c] = cs
	}
	// only zero-weight criteria applied: fall back to equal weights
	if len(breakdown) == 0 {
		return s.scoreUnweighted(listing, profile, commute)
	}

	return composite(breakdown, weights.For), breakdown
}

func (s *Scorer) scoreUnweighted(listing *models.Listing, profile models.PreferenceProfile, commute *models.CommuteInfo) (float64, models.ScoreBreakdown) {
	p := profile
	p.Weights = &models.Weights{Commute: 1, Price: 1, Size: 1, Amenities: 1, Location: 1}
	return s.Score(listing, p, commute)
}

// composite fills in the normalised weights and returns the weighted mean.
func composite(b models.ScoreBreakdown, weight func(models.Criterion) float64) float64 {
	total := 0.0
	for c := range b {
		total += weight(c)
	}

	sum := 0.0
	for _, c := range b.Present() {
		cs := b[c]
		cs.Weight = geocoding.RoundTo(weight(c)/total, 4)
		b[c] = cs
		sum += cs.Score * weight(c) / total
	}
	return clampScore(geocoding.RoundTo(sum, 1))
}

func (s *Scorer) scorePrice(l *models.Listing, p models.PreferenceProfile) models.CriterionScore {
	floor := float64(p.MinRent)
	if p.MinRent == 0 {
		floor = float64(p.MaxRent) * s.cfg.Price.GoodValueFraction
	}
	ceiling := float64(p.MaxRent)
	price := float64(l.Price)

	var score float64
	switch {
	case ceiling <= floor, price <= floor:
		score = 100
	case price >= ceiling:
		score = 0
	default:
		score = 100 * (ceiling - price) / (ceiling - floor)
	}

	return models.CriterionScore{
		Score: score,
		Raw: map[string]float64{
			"price":       price,
			"value_floor": floor,
		},
		Info: fmt.Sprintf("$%d/mo", l.Price),
	}
}

func (s *Scorer) scoreSize(l *models.Listing, p models.PreferenceProfile) models.CriterionScore {
	sz := s.cfg.Size
	raw := make(map[string]float64, 3)

	bed := sz.NeutralScore
	if l.Bedrooms != nil {
		raw["bedrooms"] = *l.Bedrooms
		bed = s.diminishing(*l.Bedrooms, p.MinBedrooms, sz.BedroomScale)
	}

	bath := sz.NeutralScore
	if l.Bathrooms != nil {
		raw["bathrooms"] = *l.Bathrooms
		bath = s.diminishing(*l.Bathrooms, p.MinBathrooms, sz.BathroomScale)
	}

	sqft := sz.NeutralScore
	if l.Sqft != nil {
		raw["sqft"] = float64(*l.Sqft)
		baseline := math.Max(float64(p.MinSqft), sz.BaselineSqft)
		sqft = s.diminishing(float64(*l.Sqft), baseline, sz.SqftScale)
	}

	shares := sz.BedroomShare + sz.BathroomShare + sz.SqftShare
	score := (bed*sz.BedroomShare + bath*sz.BathroomShare + sqft*sz.SqftShare) / shares

	return models.CriterionScore{
		Score: score,
		Raw:   raw,
		Info:  sizeInfo(l),
	}
}

// diminishing scores v against a minimum: MeetsMinimumScore at the minimum,
// rising towards 100 with an exponential saturation, and proportionally less
// below it.
func (s *Scorer) diminishing(v, minimum, scale float64) float64 {
	meets := s.cfg.Size.MeetsMinimumScore
	if v >= minimum {
		return meets + (100-meets)*(1-math.Exp(-(v-minimum)/scale))
	}
	if minimum <= 0 {
		return meets
	}
	return meets * math.Max(0, v) / minimum
}

func (s *Scorer) scoreAmenities(l *models.Listing, p models.PreferenceProfile) models.CriterionScore {
	preferred := float64(len(p.PreferredAmenities))
	if !l.HasAmenityData() {
		return models.CriterionScore{
			Score: s.cfg.Amenities.NeutralScore,
			Raw:   map[string]float64{"preferred": preferred},
			Info:  "amenities unknown",
		}
	}

	have := make(map[string]bool, len(l.Amenities))
	for _, a := range l.Amenities {
		have[NormalizeAmenity(a)] = true
	}
	matched := 0
	for _, a := range p.PreferredAmenities {
		if have[a] {
			matched++
		}
	}

	return models.CriterionScore{
		Score: 100 * float64(matched) / preferred,
		Raw: map[string]float64{
			"matched":   float64(matched),
			"preferred": preferred,
		},
		Info: fmt.Sprintf("%d of %d preferred", matched, len(p.PreferredAmenities)),
	}
}

func (s *Scorer) scoreLocation(l *models.Listing) (models.CriterionScore, bool) {
	center := s.cfg.Location.Center
	if center == nil {
		return models.CriterionScore{}, false
	}
	pos, ok := l.Coordinates()
	if !ok {
		return models.CriterionScore{}, false
	}

	miles := geocoding.RoundTo(geocoding.Haversine(pos, *center), 1)
	return models.CriterionScore{
		Score: decay(s.cfg.Location.Curve, miles, s.cfg.Location.FullScoreMiles, s.cfg.Location.MaxMiles),
		Raw:   map[string]float64{"distance_miles": miles},
		Info:  fmt.Sprintf("%.1f mi from centre", miles),
	}, true
}

// decay maps x to 100 at or below full, falling monotonically after it. The
// linear curve reaches 0 at limit; the exponential curve is 5 at limit and
// keeps approaching 0 beyond it.
func decay(curve string, x, full, limit float64) float64 {
	if x <= full {
		return 100
	}
	span := limit - full
	if curve == config.CurveExponential {
		k := math.Log(20) / span
		return 100 * math.Exp(-k*(x-full))
	}
	if x >= limit {
		return 0
	}
	return 100 * (limit - x) / span
}

func sizeInfo(l *models.Listing) string {
	parts := []string{"? bd", "? ba", "? sqft"}
	if l.Bedrooms != nil {
		parts[0] = fmt.Sprintf("%g bd", *l.Bedrooms)
	}
	if l.Bathrooms != nil {
		parts[1] = fmt.Sprintf("%g ba", *l.Bathrooms)
	}
	if l.Sqft != nil {
		parts[2] = fmt.Sprintf("%d sqft", *l.Sqft)
	}
	return strings.Join(parts, " | ")
}

// clampScore bounds v to [0,100]. NaN maps to 0.
func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
