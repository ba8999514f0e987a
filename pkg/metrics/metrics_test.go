package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExposure(t *testing.T) {
	ObserveTask("migrate", time.Now().Add(-50*time.Millisecond), nil)
	IncImport("imported")
	AddFixtureObjects("load", 3)
	IncCache("miss")
	HTTPRequestsTotal.WithLabelValues("GET", "GET /health", "200").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}

	body := rec.Body.String()
	for _, m := range []string{
		"msgvis_task_runs_total",
		"msgvis_task_duration_seconds",
		"msgvis_import_records_total",
		"msgvis_fixture_objects_total",
		"msgvis_cache_requests_total",
		"msgvis_http_requests_total",
	} {
		if !strings.Contains(body, m) {
			t.Fatalf("expected metric %s in body", m)
		}
	}
}

func TestObserveTask_Status(t *testing.T) {
	before := testutil.ToFloat64(TaskRunsTotal.WithLabelValues("deploy", "error"))
	ObserveTask("deploy", time.Now(), errors.New("missing host"))
	after := testutil.ToFloat64(TaskRunsTotal.WithLabelValues("deploy", "error"))
	if after != before+1 {
		t.Fatalf("expected error counter to increase by 1, got %v -> %v", before, after)
	}
}
