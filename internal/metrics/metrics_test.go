package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMiddlewareWithChiRouter(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/7", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status %d", rec.Code)
	}
	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/items/{id}", "418"))
	if got != 1 {
		t.Fatalf("expected one labelled request, got %v", got)
	}
}

func TestStorageHook(t *testing.T) {
	m := New()
	m.ObserveRead(time.Millisecond, 10)
	m.ObserveBatchCommit(2*time.Millisecond, 2, 128)
	var out dto.Metric
	if err := m.StorageCommitBytes.Write(&out); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if out.GetHistogram().GetSampleCount() != 1 || out.GetHistogram().GetSampleSum() != 128 {
		t.Fatalf("unexpected commit bytes histogram %v", out.GetHistogram())
	}
}

func TestHandlerExposesBrokerMetrics(t *testing.T) {
	m := New()
	m.RequestsTotal.WithLabelValues("ping").Inc()
	m.Connections.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{`bucface_broker_requests_total{kind="ping"} 1`, "bucface_broker_connections 3", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
