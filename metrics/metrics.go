// Package metrics exposes Prometheus collectors for ranking and geocoding.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRankRequestsTotal   = "apartment_rank_requests_total"
	MetricRankDuration        = "apartment_rank_duration_seconds"
	MetricGeocodeLookupsTotal = "apartment_geocode_lookups_total"
	MetricListingsFiltered    = "apartment_listings_filtered_total"
	MetricListingsScored      = "apartment_listings_scored_total"
	MetricHTTPRequestsTotal   = "apartment_http_requests_total"
	MetricHTTPRequestDuration = "apartment_http_request_duration_seconds"
)

// Rank outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Metrics holds the collectors. All methods are safe for concurrent use and
// for a nil receiver, which records nothing.
type Metrics struct {
	rankRequests     *prometheus.CounterVec
	rankDuration     prometheus.Histogram
	geocodeLookups   *prometheus.CounterVec
	listingsFiltered prometheus.Counter
	listingsScored   prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		rankRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankRequestsTotal,
				Help: "Ranking requests by outcome",
			},
			[]string{"outcome"},
		),
		rankDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricRankDuration,
				Help:    "Time spent ranking a listing set, including geocoding",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		geocodeLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGeocodeLookupsTotal,
				Help: "Geocode lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		listingsFiltered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricListingsFiltered,
				Help: "Listings removed by hard filters",
			},
		),
		listingsScored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricListingsScored,
				Help: "Listings scored across all ranking requests",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rankRequests,
		m.rankDuration,
		m.geocodeLookups,
		m.listingsFiltered,
		m.listingsScored,
		m.httpRequests,
		m.httpDuration,
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRank records one ranking request.
func (m *Metrics) ObserveRank(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.rankRequests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.rankDuration.Observe(seconds)
	}
}

// ObserveGeocodeLookup satisfies geocoding.LookupObserver.
func (m *Metrics) ObserveGeocodeLookup(result string) {
	if m == nil {
		return
	}
	m.geocodeLookups.WithLabelValues(result).Inc()
}

// AddFiltered counts listings dropped by hard filters.
func (m *Metrics) AddFiltered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.listingsFiltered.Add(float64(n))
}

// AddScored counts listings that received a score.
func (m *Metrics) AddScored(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.listingsScored.Add(float64(n))
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}
