// Package geocoding resolves addresses to coordinates and turns pairs of
// coordinates into straight-line commute estimates.
package geocoding

import (
	"math"

	"apartment-ranker/models"
)

// EarthRadiusMiles is the mean Earth radius used by Haversine.
const EarthRadiusMiles = 3959.0

// Haversine returns the great-circle distance between a and b in miles.
func Haversine(a, b models.Coordinates) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// guard against rounding pushing h just past 1
	h = math.Min(1, h)
	return 2 * EarthRadiusMiles * math.Asin(math.Sqrt(h))
}

// EstimateCommute converts the straight-line distance between origin and
// destination into a commute estimate at the given average speed.
// Distance is rounded to one decimal place and minutes, derived from the
// rounded distance, to the nearest whole minute.
func EstimateCommute(origin, destination models.Coordinates, speedMph float64) models.CommuteInfo {
	miles := RoundTo(Haversine(origin, destination), 1)
	minutes := 0.0
	if speedMph > 0 {
		minutes = math.Round(miles / speedMph * 60)
	}
	return models.CommuteInfo{
		DistanceMiles:    miles,
		EstimatedMinutes: minutes,
	}
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
