package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"SmartBI-Agent/internal/engine"
)

func TestMiddlewareRecordsStatus(t *testing.T) {
	reg := New()
	handler := reg.Middleware("uploads", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/uploads/csv", nil))

	if got := testutil.ToFloat64(reg.httpRequests.WithLabelValues("uploads", http.MethodPost, "500")); got != 1 {
		t.Fatalf("unexpected request count: %v", got)
	}
	if got := testutil.ToFloat64(reg.httpErrors.WithLabelValues("uploads", http.MethodPost)); got != 1 {
		t.Fatalf("unexpected error count: %v", got)
	}
}

func TestObservers(t *testing.T) {
	reg := New()
	reg.ObserveTool(engine.ToolRunScript, engine.OutcomeOK, 20*time.Millisecond)
	reg.ObserveTool(engine.ToolLoad, engine.OutcomeError, time.Millisecond)
	reg.ObserveGeneration("groq", "ok", time.Second)

	if got := testutil.ToFloat64(reg.toolCalls.WithLabelValues(engine.ToolRunScript, "ok")); got != 1 {
		t.Fatalf("unexpected tool count: %v", got)
	}
	if got := testutil.ToFloat64(reg.toolCalls.WithLabelValues(engine.ToolLoad, "error")); got != 1 {
		t.Fatalf("unexpected tool error count: %v", got)
	}
	if got := testutil.ToFloat64(reg.generations.WithLabelValues("groq", "ok")); got != 1 {
		t.Fatalf("unexpected generation count: %v", got)
	}
	if n := testutil.CollectAndCount(reg.scriptDuration); n != 1 {
		t.Fatalf("expected script histogram to be collected, got %d", n)
	}
}

func TestHandlerExposition(t *testing.T) {
	reg := New()
	reg.ObserveHTTPRequest("health", http.MethodGet, http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`smartbi_http_requests_total{code="200",handler="health",method="GET"} 1`,
		"smartbi_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, body)
		}
	}
}

func TestObserveQuery(t *testing.T) {
	reg := New()
	reg.ObserveQuery("interactive", "answered", 3*time.Second)
	reg.ObserveQuery("batch", "retried", time.Second)
	reg.ObserveQuery("batch", "retried", time.Second)

	if got := testutil.ToFloat64(reg.queries.WithLabelValues("batch", "retried")); got != 2 {
		t.Fatalf("unexpected retried count: %v", got)
	}
	if got := testutil.ToFloat64(reg.queries.WithLabelValues("interactive", "answered")); got != 1 {
		t.Fatalf("unexpected answered count: %v", got)
	}
	if n := testutil.CollectAndCount(reg.queryDuration); n != 2 {
		t.Fatalf("expected one histogram per priority, got %d", n)
	}
}
