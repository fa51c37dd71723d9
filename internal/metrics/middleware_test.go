package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	unavailableBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "503"))

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/crawl", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for _, path := range []string{"/v1/crawl", "/v1/crawl", "/readyz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 0)
	assert.InDelta(t, unavailableBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "503")), 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareUnknownRoute(t *testing.T) {
	Init()
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "418"))

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/anything", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "418")), 0)
}
