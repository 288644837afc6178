package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllInstruments(t *testing.T) {
	m := New()

	m.ObservationsIngested.WithLabelValues("tent").Inc()
	m.IngestRejected.WithLabelValues("latitude").Inc()
	m.IngestRetries.Inc()
	m.DegradedWrites.Inc()
	m.RateLimited.Inc()
	m.FeedPublished.Inc()
	m.FeedDropped.Inc()
	m.FeedSubscribers.Set(2)
	m.SyncCatchUps.Inc()
	m.SyncDuplicates.Inc()
	m.SyncReconnects.Inc()
	m.ScanDuration.Observe(0.05)
	m.RollupRuns.WithLabelValues("ok").Inc()
	m.RollupDuration.Observe(0.2)

	if got := testutil.ToFloat64(m.ObservationsIngested.WithLabelValues("tent")); got != 1 {
		t.Errorf("observations_ingested_total{object_type=tent} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FeedSubscribers); got != 2 {
		t.Errorf("feed_subscribers = %v, want 2", got)
	}
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	// Building two metric sets must not panic on duplicate registration.
	a := New()
	b := New()

	a.FeedPublished.Inc()
	if got := testutil.ToFloat64(b.FeedPublished); got != 0 {
		t.Errorf("second instance counter = %v, want 0", got)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	m := New()
	m.ObservationsIngested.WithLabelValues("blanket").Add(3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "shelter_observations_ingested_total") {
		t.Error("metrics output missing shelter_observations_ingested_total")
	}
	if !strings.Contains(string(body), `object_type="blanket"`) {
		t.Error("metrics output missing object_type label")
	}
}
