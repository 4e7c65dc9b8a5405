package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"apartment-ranker/models"
	"apartment-ranker/utils"
)

// NominatimClient resolves addresses through an OpenStreetMap Nominatim
// compatible search endpoint. Requests are spaced by a throttle to respect
// the provider's usage policy.
type NominatimClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	throttle  *utils.Throttle
	retry     *utils.RetryConfig
	logger    *utils.Logger
}

// NominatimOptions configures a NominatimClient.
type NominatimOptions struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	RateLimitMs int
	MaxRetries  int
	RetryDelay  time.Duration
	Logger      *utils.Logger
}

// NewNominatimClient builds a client from opts.
func NewNominatimClient(opts NominatimOptions) *NominatimClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.Discard()
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &NominatimClient{
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		http:      &http.Client{Timeout: timeout},
		throttle:  utils.NewThrottle(opts.RateLimitMs),
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   delay,
			Logger:      logger,
		},
		logger: logger,
	}
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Resolve implements Geocoder.
func (c *NominatimClient) Resolve(ctx context.Context, address string) (models.Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return models.Coordinates{}, &GeocodeError{Address: address, Err: ErrEmptyAddress}
	}

	var coords models.Coordinates
	err := c.retry.Do(ctx, "nominatim-search", func() error {
		if err := c.throttle.Wait(ctx); err != nil {
			return utils.Permanent(err)
		}
		var err error
		coords, err = c.search(ctx, address)
		return err
	})
	if err != nil {
		return models.Coordinates{}, &GeocodeError{Address: address, Err: err}
	}

	c.logger.Debug("[geocode] %q -> %.5f,%.5f", address, coords.Lat, coords.Lng)
	return coords, nil
}

func (c *NominatimClient) search(ctx context.Context, address string) (models.Coordinates, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return models.Coordinates{}, utils.Permanent(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.Coordinates{}, utils.Permanent(ctx.Err())
		}
		return models.Coordinates{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.Coordinates{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.Coordinates{}, utils.Permanent(fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode))
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return models.Coordinates{}, utils.Permanent(fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err))
	}
	if len(places) == 0 {
		return models.Coordinates{}, utils.Permanent(ErrNotFound)
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(places[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return models.Coordinates{}, utils.Permanent(fmt.Errorf("%w: malformed coordinates %q,%q",
			ErrProviderUnavailable, places[0].Lat, places[0].Lon))
	}
	return models.Coordinates{Lat: lat, Lng: lng}, nil
}
