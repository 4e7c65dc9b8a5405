package models

import (
	"encoding/json"
	"sort"
)

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"latitude" koanf:"lat"`
	Lng float64 `json:"longitude" koanf:"lng"`
}

// CommuteMode selects the assumed average travel speed.
type CommuteMode string

const (
	CommuteDriving CommuteMode = "driving"
	CommuteTransit CommuteMode = "transit"
	CommuteWalking CommuteMode = "walking"
)

// CommuteInfo is the straight-line commute estimate between a listing and work.
type CommuteInfo struct {
	DistanceMiles    float64 `json:"distance_miles"`
	EstimatedMinutes float64 `json:"estimated_minutes"`
}

// Criterion names one scoring dimension.
type Criterion string

const (
	CriterionCommute   Criterion = "commute"
	CriterionPrice     Criterion = "price"
	CriterionSize      Criterion = "size"
	CriterionAmenities Criterion = "amenities"
	CriterionLocation  Criterion = "location"
)

// Criteria lists every criterion in display order.
var Criteria = []Criterion{
	CriterionCommute,
	CriterionPrice,
	CriterionSize,
	CriterionAmenities,
	CriterionLocation,
}

// CriterionScore is one entry of a ScoreBreakdown.
// Weight is the share of the composite after re-normalisation over the
// criteria present for the listing, so the weights of a breakdown sum to 1.
type CriterionScore struct {
	Score  float64
	Weight float64
	Raw    map[string]float64
	Info   string
}

// MarshalJSON flattens the raw values next to score and weight.
func (c CriterionScore) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Raw)+3)
	for k, v := range c.Raw {
		out[k] = v
	}
	out["score"] = c.Score
	out["weight"] = c.Weight
	if c.Info != "" {
		out["info"] = c.Info
	}
	return json.Marshal(out)
}

// ScoreBreakdown maps each criterion present for a listing to its sub-score.
// Criteria excluded for the listing are absent from the map.
type ScoreBreakdown map[Criterion]CriterionScore

// Present returns the criteria in the breakdown in display order.
func (b ScoreBreakdown) Present() []Criterion {
	out := make([]Criterion, 0, len(b))
	for _, c := range Criteria {
		if _, ok := b[c]; ok {
			out = append(out, c)
		}
	}
	if len(out) == len(b) {
		return out
	}
	// unknown criteria go last in name order
	var extra []Criterion
	for c := range b {
		known := false
		for _, k := range Criteria {
			if k == c {
				known = true
				break
			}
		}
		if !known {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Weights holds the relative importance of each criterion. Only the ratios
// matter: the scorer re-normalises over the criteria present for a listing.
type Weights struct {
	Commute   float64 `json:"commute" koanf:"commute"`
	Price     float64 `json:"price" koanf:"price"`
	Size      float64 `json:"size" koanf:"size"`
	Amenities float64 `json:"amenities" koanf:"amenities"`
	Location  float64 `json:"location" koanf:"location"`
}

// For returns the weight configured for c.
func (w Weights) For(c Criterion) float64 {
	switch c {
	case CriterionCommute:
		return w.Commute
	case CriterionPrice:
		return w.Price
	case CriterionSize:
		return w.Size
	case CriterionAmenities:
		return w.Amenities
	case CriterionLocation:
		return w.Location
	}
	return 0
}

// PreferenceProfile is one user's validated ranking inputs. It is built once
// per request by services.ValidatePreferences and treated as read-only.
type PreferenceProfile struct {
	WorkAddress        string
	MinRent            int
	MaxRent            int
	MinBedrooms        float64
	MinBathrooms       float64
	MinSqft            int
	CommuteMode        CommuteMode
	PreferredAmenities []string
	RequiredAmenities  []string

	// Weights overrides the calibrated weights when non-nil.
	Weights *Weights
}

// HasWorkAddress reports whether commute scoring applies to this profile.
func (p PreferenceProfile) HasWorkAddress() bool {
	return p.WorkAddress != ""
}

// RankedResult is one scored listing in a ranking response.
type RankedResult struct {
	Listing   Listing        `json:"listing"`
	Composite float64        `json:"composite"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Commute   *CommuteInfo   `json:"commute_info"`
}

// DisplayScore is the composite rounded to a whole number for user output.
func (r RankedResult) DisplayScore() int {
	return int(r.Composite + 0.5)
}
