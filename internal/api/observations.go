package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/geo"
	"github.com/commons-data/shelter.report/internal/httputil"
	"github.com/commons-data/shelter.report/internal/ingest"
	"github.com/commons-data/shelter.report/internal/units"
)

// maxSubmitBody bounds the submit payload; a single observation is a few
// hundred bytes at most.
const maxSubmitBody = 1 << 16

// defaultNearRadius applies when near is given without an explicit radius.
const defaultNearRadius = 500.0 // meters

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitObservation(w, r)
	case http.MethodGet:
		s.listObservations(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) submitObservation(w http.ResponseWriter, r *http.Request) {
	allowed, retryAfter := s.limiter.Allow(clientIP(r))
	if !allowed {
		if s.Metrics != nil {
			s.Metrics.RateLimited.Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		httputil.WriteJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var obs db.Observation
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		httputil.BadRequest(w, "invalid JSON payload")
		return
	}

	stored, err := s.gateway.Submit(r.Context(), obs)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error": verr.Error(),
				"field": verr.Field,
			})
			return
		}
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "storage unavailable, try again later")
		return
	}

	httputil.WriteJSONCreated(w, stored)
}

func (s *Server) listObservations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseObservationFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	observations, err := s.db.QueryObservations(r.Context(), filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query observations: %v", err))
		return
	}
	if observations == nil {
		observations = []db.Observation{}
	}
	httputil.WriteJSONOK(w, observations)
}

func parseObservationFilter(r *http.Request) (db.ObservationFilter, error) {
	var filter db.ObservationFilter
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid 'limit' parameter %q", raw)
		}
		filter.Limit = limit
	}

	if raw := q.Get("object_type"); raw != "" {
		typ := db.ObjectType(raw)
		if !typ.Valid() {
			return filter, fmt.Errorf("unknown object_type %q", raw)
		}
		filter.ObjectType = typ
	}

	if raw := q.Get("context"); raw != "" {
		setting := db.Setting(raw)
		if !setting.Valid() {
			return filter, fmt.Errorf("unknown context %q", raw)
		}
		filter.Context = setting
	}

	if raw := q.Get("since"); raw != "" {
		since, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid 'since' parameter %q", raw)
		}
		filter.Since = since
	}

	if raw := q.Get("near"); raw != "" {
		coord, err := parseNear(raw)
		if err != nil {
			return filter, err
		}
		filter.Near = &coord
		filter.Radius = defaultNearRadius
		if rawRadius := q.Get("radius"); rawRadius != "" {
			radius, err := parseRadius(rawRadius)
			if err != nil {
				return filter, err
			}
			filter.Radius = radius
		}
	} else if q.Get("radius") != "" {
		return filter, errors.New("'radius' requires 'near'")
	}

	return filter, nil
}

func parseNear(raw string) (geo.Coordinate, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return geo.Coordinate{}, fmt.Errorf("invalid 'near' parameter %q, want lat,lon", raw)
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLon != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid 'near' parameter %q, want lat,lon", raw)
	}
	coord := geo.Coordinate{Latitude: lat, Longitude: lon}
	if err := coord.Validate(); err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid 'near' parameter: %v", err)
	}
	return coord, nil
}

// parseRadius accepts a bare number of meters or a number with an m, km, mi
// or ft suffix.
func parseRadius(raw string) (float64, error) {
	unit := units.Meters
	value := raw
	switch {
	case strings.HasSuffix(raw, units.Kilometers):
		unit, value = units.Kilometers, strings.TrimSuffix(raw, units.Kilometers)
	case strings.HasSuffix(raw, units.Miles):
		unit, value = units.Miles, strings.TrimSuffix(raw, units.Miles)
	case strings.HasSuffix(raw, units.Feet):
		unit, value = units.Feet, strings.TrimSuffix(raw, units.Feet)
	case strings.HasSuffix(raw, units.Meters):
		unit, value = units.Meters, strings.TrimSuffix(raw, units.Meters)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid 'radius' parameter %q", raw)
	}
	return units.ToMeters(v, unit), nil
}
