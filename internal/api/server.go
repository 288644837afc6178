// Package api serves the public observation surface: anonymous submission,
// querying, the live SSE stream, stats and the analytics charts. Reads and
// writes are both unauthenticated; the submit path is rate limited per
// client instead.
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/commons-data/shelter.report/internal/config"
	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/feed"
	"github.com/commons-data/shelter.report/internal/ingest"
	"github.com/commons-data/shelter.report/internal/metrics"
	"github.com/commons-data/shelter.report/internal/monitoring"
	"github.com/commons-data/shelter.report/internal/timeutil"
	"github.com/commons-data/shelter.report/internal/view"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db      *db.DB
	gateway *ingest.Gateway
	feed    *feed.Feed
	view    *view.Synchronizer
	cfg     *config.PipelineConfig
	limiter *ingest.RateLimiter
	clock   timeutil.Clock

	Metrics *metrics.Metrics // optional
}

func NewServer(database *db.DB, gateway *ingest.Gateway, f *feed.Feed, sync *view.Synchronizer, cfg *config.PipelineConfig) *Server {
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	return &Server{
		db:      database,
		gateway: gateway,
		feed:    f,
		view:    sync,
		cfg:     cfg,
		limiter: ingest.NewRateLimiter(cfg.GetRateLimitPerMinute(), time.Minute, nil),
		clock:   timeutil.RealClock{},
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/observations", s.handleObservations)
	mux.HandleFunc("/api/observations/stream", s.streamObservations)
	mux.HandleFunc("/api/view", s.showView)
	mux.HandleFunc("/api/view/overlay", s.showOverlay)
	mux.HandleFunc("/api/view/recording", s.toggleRecording)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/stats/daily", s.showDailyStats)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/charts", s.showCharts)
	mux.HandleFunc("/charts/density.png", s.densityPlot)
	return mux
}

// clientIP attributes a request for rate limiting, trusting forwarding
// headers set by the reverse proxy before falling back to the socket peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
