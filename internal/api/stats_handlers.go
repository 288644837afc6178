package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/feed"
	"github.com/commons-data/shelter.report/internal/httputil"
	"github.com/commons-data/shelter.report/internal/stats"
	"github.com/commons-data/shelter.report/internal/units"
	"github.com/commons-data/shelter.report/internal/version"
)

// dayFormat matches the rollup table's day column.
const dayFormat = "2006-01-02"

// defaultDailyDays is the window /api/stats/daily serves without params.
const defaultDailyDays = 14

type statsResponse struct {
	Summary       stats.Summary  `json:"summary"`
	TotalRecorded int64          `json:"total_recorded"`
	Feed          feed.FeedStats `json:"feed"`
	GeneratedAt   float64        `json:"generated_at"`
}

// showStats aggregates the most recent window plus all-time totals. The
// summary is recomputed per request; the bounded window keeps that cheap.
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	recent, err := s.db.RecentObservations(r.Context(), s.cfg.GetCatchUpLimit())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query recent observations: %v", err))
		return
	}
	total, err := s.db.CountObservations(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count observations: %v", err))
		return
	}

	httputil.WriteJSONOK(w, statsResponse{
		Summary: stats.Compute(recent, stats.Options{
			TopK:         s.cfg.GetTopK(),
			RecentWindow: s.cfg.GetRecentWindow(),
		}),
		TotalRecorded: total,
		Feed:          s.feed.Stats(),
		GeneratedAt:   float64(s.clock.Now().UnixNano()) / 1e9,
	})
}

// showDailyStats serves rollup rows for charting. Optional start/end
// (2006-01-02, inclusive) select a range; the default is the last two weeks
// in the rollup timezone.
func (s *Server) showDailyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	loc, err := time.LoadLocation(s.cfg.GetRollupTimezone())
	if err != nil {
		loc = time.UTC
	}

	q := r.URL.Query()
	endDay := q.Get("end")
	startDay := q.Get("start")
	if endDay == "" {
		endDay = units.LocalDay(s.clock.Now(), loc)
	}
	if startDay == "" {
		end, err := time.ParseInLocation(dayFormat, endDay, loc)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'end' parameter %q, want YYYY-MM-DD", endDay))
			return
		}
		startDay = end.AddDate(0, 0, -(defaultDailyDays - 1)).Format(dayFormat)
	}
	if _, err := time.ParseInLocation(dayFormat, startDay, loc); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid 'start' parameter %q, want YYYY-MM-DD", startDay))
		return
	}
	if startDay > endDay {
		httputil.BadRequest(w, "'start' must not be after 'end'")
		return
	}

	rollups, err := s.db.RollupsBetween(r.Context(), startDay, endDay)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query rollups: %v", err))
		return
	}
	if rollups == nil {
		rollups = []db.Rollup{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"start":   startDay,
		"end":     endDay,
		"rollups": rollups,
	})
}

// showConfig reports the effective runtime settings and build metadata.
func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
		"config":     s.cfg.Effective(),
	})
}

// healthz reports liveness plus the degraded-write flag and fan-out
// saturation, so operators see silent data loss instead of a green light.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.gateway != nil && s.gateway.Degraded() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]interface{}{
		"status":  status,
		"version": version.Version,
		"feed":    s.feed.Stats(),
	})
}
