package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"apartment-ranker/geocoding"
	"apartment-ranker/metrics"
	"apartment-ranker/models"
	"apartment-ranker/services"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type apartmentResult struct {
	Listing     models.Listing        `json:"listing"`
	Score       int                   `json:"score"`
	Composite   float64               `json:"composite"`
	Breakdown   models.ScoreBreakdown `json:"breakdown"`
	CommuteInfo *models.CommuteInfo   `json:"commute_info"`
}

type rankResponse struct {
	Success    bool              `json:"success"`
	Count      int               `json:"count"`
	Filtered   int               `json:"filtered"`
	Apartments []apartmentResult `json:"apartments"`
	Warnings   []string          `json:"warnings,omitempty"`
}

type listingsResponse struct {
	Success    bool              `json:"success"`
	Count      int               `json:"count"`
	Apartments []*models.Listing `json:"apartments"`
}

type geocodeResponse struct {
	Success   bool    `json:"success"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req services.PreferenceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.metrics.ObserveRank(metrics.OutcomeInvalid, time.Since(start).Seconds())
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	profile, err := services.ValidatePreferences(req, s.defaults)
	if err != nil {
		s.metrics.ObserveRank(metrics.OutcomeInvalid, time.Since(start).Seconds())
		s.logger.Info("[server] %s rejected preferences: %v", GetRequestID(r.Context()), oneLine(err))
		s.writeError(w, http.StatusBadRequest, oneLine(err))
		return
	}

	listings, err := s.store.FetchActiveListings(r.Context())
	if err != nil {
		s.metrics.ObserveRank(metrics.OutcomeError, time.Since(start).Seconds())
		s.logger.Error("[server] %s fetch listings: %v", GetRequestID(r.Context()), err)
		s.writeError(w, http.StatusInternalServerError, "failed to load listings")
		return
	}

	ranking, err := s.ranker.Rank(r.Context(), listings, profile)
	if err != nil {
		s.metrics.ObserveRank(metrics.OutcomeError, time.Since(start).Seconds())
		s.logger.Warn("[server] %s rank: %v", GetRequestID(r.Context()), err)
		s.writeError(w, http.StatusServiceUnavailable, "ranking was cancelled")
		return
	}
	s.saveGeocoded(r.Context(), ranking.Geocoded)

	resp := rankResponse{
		Success:    true,
		Count:      ranking.Count,
		Filtered:   ranking.Filtered,
		Apartments: make([]apartmentResult, 0, len(ranking.Results)),
		Warnings:   ranking.Warnings,
	}
	for _, res := range ranking.Results {
		resp.Apartments = append(resp.Apartments, apartmentResult{
			Listing:     res.Listing,
			Score:       res.DisplayScore(),
			Composite:   res.Composite,
			Breakdown:   res.Breakdown,
			CommuteInfo: res.Commute,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApartments(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.FetchActiveListings(r.Context())
	if err != nil {
		s.logger.Error("[server] %s fetch listings: %v", GetRequestID(r.Context()), err)
		s.writeError(w, http.StatusInternalServerError, "failed to load listings")
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	s.writeJSON(w, http.StatusOK, listingsResponse{
		Success:    true,
		Count:      len(listings),
		Apartments: listings,
	})
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		s.writeError(w, http.StatusBadRequest, "address parameter required")
		return
	}
	if s.geocoder == nil {
		s.writeError(w, http.StatusServiceUnavailable, "geocoding is not configured")
		return
	}

	pos, err := s.geocoder.Resolve(r.Context(), address)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, geocodeResponse{
			Success:   true,
			Latitude:  pos.Lat,
			Longitude: pos.Lng,
			Address:   address,
		})
	case errors.Is(err, geocoding.ErrProviderUnavailable):
		s.logger.Warn("[server] %s geocode %q: %v", GetRequestID(r.Context()), address, err)
		s.writeError(w, http.StatusServiceUnavailable, "geocoding provider unavailable")
	default:
		s.writeError(w, http.StatusNotFound, "could not geocode address")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("[server] health check: %v", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}

// writeJSON encodes v before touching the response so an encoding failure
// can still be reported as a 500.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Error("[server] encode %T response: %v", v, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"failed to encode response"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("[server] write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// oneLine flattens joined validation errors into one message.
func oneLine(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
