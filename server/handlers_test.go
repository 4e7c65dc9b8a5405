package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apartment-ranker/config"
	"apartment-ranker/geocoding"
	"apartment-ranker/metrics"
	"apartment-ranker/models"
	"apartment-ranker/services"
	"apartment-ranker/utils"
)

const workAddress = "Iowa State Capitol, Des Moines, IA"

var (
	capitol  = models.Coordinates{Lat: 41.5912, Lng: -93.6038}
	eastVill = models.Coordinates{Lat: 41.5912, Lng: -93.6115}
	keoWay   = models.Coordinates{Lat: 41.5972, Lng: -93.6311}
)

type fakeStore struct {
	mu       sync.Mutex
	listings []*models.Listing
	fetchErr error
	pingErr  error
	saved    map[string]models.Coordinates
}

func (f *fakeStore) FetchActiveListings(ctx context.Context) ([]*models.Listing, error) {
	return f.FetchAll(ctx, true)
}

func (f *fakeStore) FetchAll(_ context.Context, activeOnly bool) ([]*models.Listing, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []*models.Listing
	for _, l := range f.listings {
		if !activeOnly || l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveCoordinates(_ context.Context, positions map[string]models.Coordinates) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = map[string]models.Coordinates{}
	}
	for k, v := range positions {
		f.saved[k] = v
	}
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type tableGeocoder map[string]models.Coordinates

func (g tableGeocoder) Resolve(_ context.Context, address string) (models.Coordinates, error) {
	if address == "provider down" {
		return models.Coordinates{}, &geocoding.GeocodeError{Address: address, Err: geocoding.ErrProviderUnavailable}
	}
	c, ok := g[address]
	if !ok {
		return models.Coordinates{}, &geocoding.GeocodeError{Address: address, Err: geocoding.ErrNotFound}
	}
	return c, nil
}

func sampleListings() []*models.Listing {
	return []*models.Listing{
		{
			ID: 1, Address: "500 E Grand Ave", City: "Des Moines", State: "IA",
			Price: 1100, Bedrooms: models.Float(1), Bathrooms: models.Float(1),
			ListingURL: "https://www.zillow.com/a", IsActive: true,
			Latitude: models.Float(eastVill.Lat), Longitude: models.Float(eastVill.Lng),
		},
		{
			ID: 2, Address: "1 Overbudget Pl", City: "Des Moines", State: "IA",
			Price: 1300, Bedrooms: models.Float(2), Bathrooms: models.Float(2),
			ListingURL: "https://www.zillow.com/b", IsActive: true,
		},
		{
			ID: 3, Address: "900 Keo Way", City: "Des Moines", State: "IA",
			Price: 1000, Bedrooms: models.Float(1), Bathrooms: models.Float(1),
			ListingURL: "https://www.zillow.com/c", IsActive: true,
		},
		{
			ID: 4, Address: "2 Gone St", Price: 800, ListingURL: "https://www.zillow.com/d",
		},
	}
}

type fixture struct {
	store   *fakeStore
	metrics *metrics.Metrics
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc := config.DefaultScoring()
	geo := tableGeocoder{
		workAddress:                       capitol,
		"900 Keo Way, Des Moines, IA":     keoWay,
		"500 E Grand Ave, Des Moines, IA": eastVill,
	}
	m := metrics.NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	store := &fakeStore{listings: sampleListings()}
	ranker := services.NewRanker(services.NewScorer(sc), geo, services.RankerOptions{Concurrency: 2}, utils.Discard(), m)
	srv := New(Options{
		Store:    store,
		Ranker:   ranker,
		Geocoder: geo,
		Defaults: services.DefaultsFrom(&config.Config{DefaultMaxRent: 2000}, sc),
		Metrics:  m,
		Gatherer: reg,
	})
	return &fixture{store: store, metrics: m, handler: srv.Handler()}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

type rankBody struct {
	Success    bool     `json:"success"`
	Count      int      `json:"count"`
	Filtered   int      `json:"filtered"`
	Error      string   `json:"error"`
	Warnings   []string `json:"warnings"`
	Apartments []struct {
		Listing     models.Listing            `json:"listing"`
		Score       int                       `json:"score"`
		Composite   float64                   `json:"composite"`
		Breakdown   map[string]map[string]any `json:"breakdown"`
		CommuteInfo *models.CommuteInfo       `json:"commute_info"`
	} `json:"apartments"`
}

func TestRankReturnsOrderedResults(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/api/rank",
		`{"work_address": "`+workAddress+`", "max_rent": 1200, "min_bedrooms": 1, "min_bathrooms": "1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))

	var body rankBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, 2, body.Filtered, "over budget and inactive listings are filtered")
	assert.Empty(t, body.Warnings)
	require.Len(t, body.Apartments, 2)

	for i, a := range body.Apartments {
		require.NotNil(t, a.CommuteInfo, "apartment %d", i)
		assert.Greater(t, a.CommuteInfo.DistanceMiles, 0.0)
		assert.Equal(t, int(a.Composite+0.5), a.Score)
		assert.Contains(t, a.Breakdown, "commute")
		assert.Contains(t, a.Breakdown, "price")
		assert.Contains(t, a.Breakdown, "size")
		assert.NotContains(t, a.Breakdown, "amenities")
		assert.Equal(t, a.CommuteInfo.DistanceMiles, a.Breakdown["commute"]["distance_miles"])
	}
	assert.GreaterOrEqual(t, body.Apartments[0].Composite, body.Apartments[1].Composite)

	// the geocoded listing is written back; the one with stored coordinates is not
	assert.Equal(t, map[string]models.Coordinates{"https://www.zillow.com/c": keoWay}, f.store.saved)
}

func TestRankValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"max_rent": `, "invalid request body"},
		{"negative max rent", `{"max_rent": -5}`, "max_rent"},
		{"min above max", `{"min_rent": 1500, "max_rent": 1000}`, "min_rent"},
		{"unknown mode", `{"commute_mode": "teleport"}`, "commute_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rr := f.do(http.MethodPost, "/api/rank", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)

			var body rankBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Contains(t, body.Error, tt.want)
		})
	}
}

func TestRankWorkAddressUnresolvable(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/api/rank", `{"work_address": "Nowhere At All", "max_rent": 1200}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var body rankBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Warnings, 1)
	for _, a := range body.Apartments {
		assert.Nil(t, a.CommuteInfo)
		assert.NotContains(t, a.Breakdown, "commute")
	}
}

func TestRankStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.store.fetchErr = errors.New("connection refused")

	rr := f.do(http.MethodPost, "/api/rank", `{"max_rent": 1200}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"success": false, "error": "failed to load listings"}`, rr.Body.String())
}

func TestRankMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/api/rank", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestApartments(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/api/apartments", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Success    bool             `json:"success"`
		Count      int              `json:"count"`
		Apartments []models.Listing `json:"apartments"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 3, body.Count)
	assert.Len(t, body.Apartments, 3)

	f.store.listings = nil
	rr = f.do(http.MethodGet, "/api/apartments", "")
	assert.JSONEq(t, `{"success": true, "count": 0, "apartments": []}`, rr.Body.String())
}

func TestGeocode(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"resolved", "?address=900+Keo+Way,+Des+Moines,+IA", http.StatusOK},
		{"missing address", "", http.StatusBadRequest},
		{"blank address", "?address=+++", http.StatusBadRequest},
		{"unknown address", "?address=Atlantis", http.StatusNotFound},
		{"provider down", "?address=provider+down", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(http.MethodGet, "/api/geocode"+tt.query, "")
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}

	rr := f.do(http.MethodGet, "/api/geocode?address=900+Keo+Way,+Des+Moines,+IA", "")
	assert.JSONEq(t,
		`{"success": true, "latitude": 41.5972, "longitude": -93.6311, "address": "900 Keo Way, Des Moines, IA"}`,
		rr.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	f.store.pingErr = errors.New("down")
	rr = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/rank", `{"max_rent": -1}`)
	f.do(http.MethodGet, "/health", "")

	rr := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	out := rr.Body.String()
	assert.Contains(t, out, metrics.MetricRankRequestsTotal+`{outcome="invalid"} 1`)
	assert.Contains(t, out, metrics.MetricHTTPRequestsTotal+`{route="GET /health",status="200"} 1`)
	assert.Contains(t, out, `route="POST /api/rank",status="400"`)
}

func TestWriteJSONReportsEncodeFailure(t *testing.T) {
	var logs bytes.Buffer
	srv := New(Options{Logger: utils.NewLoggerTo(&logs, utils.LevelDebug)})

	rec := httptest.NewRecorder()
	srv.writeJSON(rec, http.StatusOK, map[string]float64{"composite": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "failed to encode response", body.Error)
	assert.Contains(t, logs.String(), "encode map[string]float64 response")
}
