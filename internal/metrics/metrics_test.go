package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	c := New()

	c.RecordBuild("development", 0.2, false)
	c.RecordBuild("development", 0.3, true)
	c.RecordBuild("production", 1.5, false)
	c.RecordSuperseded()
	c.RecordPagesWritten(12)
	c.RecordPrerenderError("production")
	c.RecordPrerenderSkipped()
	c.RecordBroadcast()
	c.SetReloadClients(3)
	c.RecordContentChange()
	c.RecordResponse(404)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"dev success", testutil.ToFloat64(c.buildsTotal.WithLabelValues("development", "success")), 1},
		{"dev error", testutil.ToFloat64(c.buildsTotal.WithLabelValues("development", "error")), 1},
		{"prod success", testutil.ToFloat64(c.buildsTotal.WithLabelValues("production", "success")), 1},
		{"superseded", testutil.ToFloat64(c.supersededTotal), 1},
		{"pages written", testutil.ToFloat64(c.pagesWritten), 12},
		{"prerender errors", testutil.ToFloat64(c.prerenderErrors.WithLabelValues("production")), 1},
		{"prerender skipped", testutil.ToFloat64(c.prerenderSkipped), 1},
		{"broadcasts", testutil.ToFloat64(c.reloadBroadcasts), 1},
		{"clients", testutil.ToFloat64(c.reloadClients), 3},
		{"content changes", testutil.ToFloat64(c.contentChangesTotal), 1},
		{"404 responses", testutil.ToFloat64(c.httpResponses.WithLabelValues("404")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(c.buildDuration); n != 2 {
		t.Errorf("build duration series = %d, want 2", n)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordBuild("development", 1, false)
	c.RecordSuperseded()
	c.RecordPagesWritten(1)
	c.RecordPrerenderError("development")
	c.RecordPrerenderSkipped()
	c.RecordBroadcast()
	c.SetReloadClients(1)
	c.RecordContentChange()
	c.RecordResponse(200)
	if c.Registry() != nil {
		t.Error("nil collector should have no registry")
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/_pages/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New(WithNamespace("site"))
	c.RecordBroadcast()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "site_reload_broadcasts_total 1") {
		t.Errorf("exposition missing counter:\n%s", body)
	}
}

func TestSeparateCollectorsDoNotConflict(t *testing.T) {
	a := New()
	b := New()
	a.RecordBroadcast()
	if got := testutil.ToFloat64(b.reloadBroadcasts); got != 0 {
		t.Errorf("independent collector counted %v", got)
	}
}
