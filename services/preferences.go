package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"apartment-ranker/config"
	"apartment-ranker/models"
)

// ValidationError reports one malformed preference field. Several are
// combined with errors.Join when more than one field is wrong.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PreferenceRequest is the JSON body submitted by the presentation layer.
// Fields stay raw so numbers sent as strings can be accepted and malformed
// values reported per field.
type PreferenceRequest struct {
	WorkAddress        json.RawMessage `json:"work_address"`
	MinRent            json.RawMessage `json:"min_rent"`
	MaxRent            json.RawMessage `json:"max_rent"`
	MinBedrooms        json.RawMessage `json:"min_bedrooms"`
	MinBathrooms       json.RawMessage `json:"min_bathrooms"`
	MinSqft            json.RawMessage `json:"min_sqft"`
	CommuteMode        json.RawMessage `json:"commute_mode"`
	PreferredAmenities json.RawMessage `json:"preferred_amenities"`
	RequiredAmenities  json.RawMessage `json:"required_amenities"`
	Weights            json.RawMessage `json:"weights"`
}

// PreferenceDefaults supplies values for omitted request fields.
type PreferenceDefaults struct {
	MaxRent     int
	CommuteMode models.CommuteMode
	// SpeedsMph keys are the accepted commute modes.
	SpeedsMph map[string]float64
	Weights   models.Weights
}

// DefaultsFrom builds PreferenceDefaults from the process configuration.
func DefaultsFrom(cfg *config.Config, sc config.Scoring) PreferenceDefaults {
	return PreferenceDefaults{
		MaxRent:     cfg.DefaultMaxRent,
		CommuteMode: models.CommuteMode(sc.Commute.DefaultMode),
		SpeedsMph:   sc.Commute.SpeedsMph,
		Weights:     sc.Weights,
	}
}

// ValidatePreferences turns a raw request into an immutable profile. Every
// field is checked so the caller sees all problems at once.
func ValidatePreferences(req PreferenceRequest, defaults PreferenceDefaults) (models.PreferenceProfile, error) {
	var errs []error
	fail := func(field, reason string) {
		errs = append(errs, &ValidationError{Field: field, Reason: reason})
	}

	profile := models.PreferenceProfile{
		MaxRent:     defaults.MaxRent,
		CommuteMode: defaults.CommuteMode,
	}

	if s, ok, err := parseString(req.WorkAddress); err != nil {
		fail("work_address", err.Error())
	} else if ok {
		profile.WorkAddress = strings.Join(strings.Fields(s), " ")
	}

	intField := func(name string, raw json.RawMessage, dst *int) {
		v, ok, err := parseNumber(raw)
		switch {
		case err != nil:
			fail(name, err.Error())
		case !ok:
		case v != math.Trunc(v):
			fail(name, "must be a whole number")
		case v < 0:
			fail(name, "must not be negative")
		case v > math.MaxInt32:
			fail(name, "is too large")
		default:
			*dst = int(v)
		}
	}
	floatField := func(name string, raw json.RawMessage, dst *float64) {
		v, ok, err := parseNumber(raw)
		switch {
		case err != nil:
			fail(name, err.Error())
		case !ok:
		case v < 0:
			fail(name, "must not be negative")
		default:
			*dst = v
		}
	}

	intField("min_rent", req.MinRent, &profile.MinRent)
	intField("max_rent", req.MaxRent, &profile.MaxRent)
	floatField("min_bedrooms", req.MinBedrooms, &profile.MinBedrooms)
	floatField("min_bathrooms", req.MinBathrooms, &profile.MinBathrooms)
	intField("min_sqft", req.MinSqft, &profile.MinSqft)

	if profile.MinRent > profile.MaxRent {
		fail("min_rent", fmt.Sprintf("%d exceeds max_rent %d", profile.MinRent, profile.MaxRent))
	}

	if s, ok, err := parseString(req.CommuteMode); err != nil {
		fail("commute_mode", err.Error())
	} else if ok {
		mode := strings.ToLower(strings.TrimSpace(s))
		if _, known := defaults.SpeedsMph[mode]; !known {
			fail("commute_mode", fmt.Sprintf("unknown mode %q (expected one of %s)", s, strings.Join(modeNames(defaults.SpeedsMph), ", ")))
		} else {
			profile.CommuteMode = models.CommuteMode(mode)
		}
	}

	if list, err := parseAmenities(req.PreferredAmenities); err != nil {
		fail("preferred_amenities", err.Error())
	} else {
		profile.PreferredAmenities = list
	}
	if list, err := parseAmenities(req.RequiredAmenities); err != nil {
		fail("required_amenities", err.Error())
	} else {
		profile.RequiredAmenities = list
	}

	if w, ok, err := parseWeights(req.Weights, defaults.Weights); err != nil {
		fail("weights", err.Error())
	} else if ok {
		profile.Weights = &w
	}

	if len(errs) > 0 {
		return models.PreferenceProfile{}, errors.Join(errs...)
	}
	return profile, nil
}

// NormalizeAmenity is the comparison form of an amenity name.
func NormalizeAmenity(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func isAbsent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func parseString(raw json.RawMessage) (string, bool, error) {
	if isAbsent(raw) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, errors.New("must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return "", false, nil
	}
	return s, true, nil
}

// parseNumber accepts a JSON number or a string holding one. Blank strings
// count as absent.
func parseNumber(raw json.RawMessage) (float64, bool, error) {
	if isAbsent(raw) {
		return 0, false, nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false, errors.New("must be a number")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("%q is not a number", s)
	}
	return v, true, nil
}

// parseAmenities accepts a JSON array of strings or one comma separated
// string. Names are normalised and de-duplicated, order preserved.
func parseAmenities(raw json.RawMessage) ([]string, error) {
	if isAbsent(raw) {
		return nil, nil
	}

	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.New("must be a list of strings")
		}
		items = strings.Split(s, ",")
	}

	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		n := NormalizeAmenity(it)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// parseWeights overlays the supplied criteria on base.
func parseWeights(raw json.RawMessage, base models.Weights) (models.Weights, bool, error) {
	if isAbsent(raw) {
		return models.Weights{}, false, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Weights{}, false, errors.New("must be an object of criterion weights")
	}

	w := base
	targets := map[string]*float64{
		string(models.CriterionCommute):   &w.Commute,
		string(models.CriterionPrice):     &w.Price,
		string(models.CriterionSize):      &w.Size,
		string(models.CriterionAmenities): &w.Amenities,
		string(models.CriterionLocation):  &w.Location,
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		dst, ok := targets[strings.ToLower(k)]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown criterion %q", k))
			continue
		}
		v, present, err := parseNumber(fields[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %v", k, err))
			continue
		}
		if present {
			*dst = v
		}
	}
	if len(errs) > 0 {
		return models.Weights{}, false, errors.Join(errs...)
	}
	if err := config.ValidateWeights(w); err != nil {
		return models.Weights{}, false, err
	}
	return w, true, nil
}

func modeNames(speeds map[string]float64) []string {
	names := make([]string, 0, len(speeds))
	for k := range speeds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
