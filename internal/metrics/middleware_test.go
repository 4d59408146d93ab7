package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Delete("/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/v1/items", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	beforeDelete := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "204"))
	beforeGet := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodDelete, "/v1/items/abc", nil),
		httptest.NewRequest(http.MethodDelete, "/v1/items/def", nil),
		httptest.NewRequest(http.MethodGet, "/v1/items", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "204")); got != beforeDelete+2 {
		t.Errorf("DELETE 204 count = %f, want %f", got, beforeDelete+2)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); got != beforeGet+1 {
		t.Errorf("GET 200 count = %f, want %f", got, beforeGet+1)
	}
	if n := testutil.CollectAndCount(httpRequestDurationSeconds); n < 2 {
		t.Errorf("expected duration series per route, got %d", n)
	}
}
