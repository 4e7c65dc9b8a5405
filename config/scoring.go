package config

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"apartment-ranker/models"
)

// Curve shapes for the commute and location decay.
const (
	CurveLinear      = "linear"
	CurveExponential = "exponential"
)

// Scoring is the calibration handed to the scoring engine. A value is built
// per process (or per test) and never mutated afterwards, so ranking passes
// with different tunings can run side by side.
type Scoring struct {
	Weights   models.Weights  `koanf:"weights"`
	Commute   CommuteScoring  `koanf:"commute"`
	Price     PriceScoring    `koanf:"price"`
	Size      SizeScoring     `koanf:"size"`
	Amenities AmenityScoring  `koanf:"amenities"`
	Location  LocationScoring `koanf:"location"`
}

// CommuteScoring converts straight-line miles into minutes and minutes into a sub-score.
type CommuteScoring struct {
	SpeedsMph   map[string]float64 `koanf:"speeds_mph"`
	DefaultMode string             `koanf:"default_mode"`

	// FullScoreMinutes and below scores 100; MaxMinutes and beyond approaches 0.
	FullScoreMinutes float64 `koanf:"full_score_minutes"`
	MaxMinutes       float64 `koanf:"max_minutes"`
	Curve            string  `koanf:"curve"`
}

// PriceScoring sets the good-value floor used when the profile has no min rent.
type PriceScoring struct {
	GoodValueFraction float64 `koanf:"good_value_fraction"`
}

// SizeScoring shapes the diminishing-returns size curve.
type SizeScoring struct {
	// MeetsMinimumScore is awarded for exactly meeting a minimum.
	MeetsMinimumScore float64 `koanf:"meets_minimum_score"`

	// NeutralScore is used for a component whose data is missing.
	NeutralScore float64 `koanf:"neutral_score"`

	BedroomScale  float64 `koanf:"bedroom_scale"`
	BathroomScale float64 `koanf:"bathroom_scale"`
	SqftScale     float64 `koanf:"sqft_scale"`
	BaselineSqft  float64 `koanf:"baseline_sqft"`
	BedroomShare  float64 `koanf:"bedroom_share"`
	BathroomShare float64 `koanf:"bathroom_share"`
	SqftShare     float64 `koanf:"sqft_share"`
}

// AmenityScoring holds the sub-score used when a listing's amenities are unknown.
type AmenityScoring struct {
	NeutralScore float64 `koanf:"neutral_score"`
}

// LocationScoring rewards proximity to a city centre. The criterion is off
// while Center is nil.
type LocationScoring struct {
	Center         *models.Coordinates `koanf:"center"`
	FullScoreMiles float64             `koanf:"full_score_miles"`
	MaxMiles       float64             `koanf:"max_miles"`
	Curve          string              `koanf:"curve"`
}

// DefaultScoring returns the built-in calibration.
func DefaultScoring() Scoring {
	return Scoring{
		Weights: models.Weights{
			Commute:   40,
			Price:     30,
			Size:      20,
			Amenities: 10,
			Location:  10,
		},
		Commute: CommuteScoring{
			SpeedsMph: map[string]float64{
				string(models.CommuteDriving): 30,
				string(models.CommuteTransit): 20,
				string(models.CommuteWalking): 3,
			},
			DefaultMode:      string(models.CommuteDriving),
			FullScoreMinutes: 10,
			MaxMinutes:       45,
			Curve:            CurveLinear,
		},
		Price: PriceScoring{GoodValueFraction: 0.5},
		Size: SizeScoring{
			MeetsMinimumScore: 60,
			NeutralScore:      50,
			BedroomScale:      1,
			BathroomScale:     0.5,
			SqftScale:         300,
			BaselineSqft:      600,
			BedroomShare:      0.4,
			BathroomShare:     0.3,
			SqftShare:         0.3,
		},
		Amenities: AmenityScoring{NeutralScore: 50},
		Location: LocationScoring{
			FullScoreMiles: 2,
			MaxMiles:       10,
			Curve:          CurveLinear,
		},
	}
}

// LoadScoring reads a YAML calibration file and merges it over the defaults.
// An empty path yields the defaults.
func LoadScoring(path string) (Scoring, error) {
	cfg := DefaultScoring()
	if path == "" {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return DefaultScoring(), fmt.Errorf("scoring: load %s: %w", path, err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return DefaultScoring(), fmt.Errorf("scoring: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultScoring(), fmt.Errorf("scoring: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the boundedness and monotonicity preconditions of the curves.
func (s Scoring) Validate() error {
	var errs []error

	if err := ValidateWeights(s.Weights); err != nil {
		errs = append(errs, err)
	}

	if len(s.Commute.SpeedsMph) == 0 {
		errs = append(errs, errors.New("commute.speeds_mph must not be empty"))
	}
	for mode, v := range s.Commute.SpeedsMph {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("commute.speeds_mph.%s must be > 0 (got %g)", mode, v))
		}
	}
	if _, ok := s.Commute.SpeedsMph[s.Commute.DefaultMode]; !ok {
		errs = append(errs, fmt.Errorf("commute.default_mode %q has no speed", s.Commute.DefaultMode))
	}
	if s.Commute.FullScoreMinutes < 0 || s.Commute.MaxMinutes <= s.Commute.FullScoreMinutes {
		errs = append(errs, fmt.Errorf("commute: need 0 <= full_score_minutes < max_minutes (got %g, %g)",
			s.Commute.FullScoreMinutes, s.Commute.MaxMinutes))
	}
	if !validCurve(s.Commute.Curve) {
		errs = append(errs, fmt.Errorf("commute.curve must be %q or %q", CurveLinear, CurveExponential))
	}

	if s.Price.GoodValueFraction < 0 || s.Price.GoodValueFraction >= 1 {
		errs = append(errs, fmt.Errorf("price.good_value_fraction must be in [0,1) (got %g)", s.Price.GoodValueFraction))
	}

	sz := s.Size
	if !in0to100(sz.MeetsMinimumScore) || !in0to100(sz.NeutralScore) {
		errs = append(errs, errors.New("size: meets_minimum_score and neutral_score must be in [0,100]"))
	}
	if sz.BedroomScale <= 0 || sz.BathroomScale <= 0 || sz.SqftScale <= 0 {
		errs = append(errs, errors.New("size: scales must be > 0"))
	}
	if sz.BaselineSqft < 0 {
		errs = append(errs, errors.New("size.baseline_sqft must be >= 0"))
	}
	if sz.BedroomShare < 0 || sz.BathroomShare < 0 || sz.SqftShare < 0 ||
		sz.BedroomShare+sz.BathroomShare+sz.SqftShare == 0 {
		errs = append(errs, errors.New("size: shares must be >= 0 and not all zero"))
	}

	if !in0to100(s.Amenities.NeutralScore) {
		errs = append(errs, errors.New("amenities.neutral_score must be in [0,100]"))
	}

	if s.Location.FullScoreMiles < 0 || s.Location.MaxMiles <= s.Location.FullScoreMiles {
		errs = append(errs, errors.New("location: need 0 <= full_score_miles < max_miles"))
	}
	if !validCurve(s.Location.Curve) {
		errs = append(errs, fmt.Errorf("location.curve must be %q or %q", CurveLinear, CurveExponential))
	}

	return errors.Join(errs...)
}

// ValidateWeights rejects negative weights and an all-zero weight set.
func ValidateWeights(w models.Weights) error {
	sum := 0.0
	for _, c := range models.Criteria {
		v := w.For(c)
		if v < 0 {
			return fmt.Errorf("weights.%s must be >= 0 (got %g)", c, v)
		}
		sum += v
	}
	if sum == 0 {
		return errors.New("weights must not all be zero")
	}
	return nil
}

func validCurve(c string) bool {
	return c == CurveLinear || c == CurveExponential
}

func in0to100(v float64) bool {
	return v >= 0 && v <= 100
}
