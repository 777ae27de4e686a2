package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMetrics_LabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := RegisterMetrics(MetricsConfig{Registry: reg})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(WithMetrics)
	r.Get("/mobile/poll/{challenge}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Method("GET", "/metrics", h)

	for _, key := range []string{"aaa", "bbb", "ccc"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/mobile/poll/"+key, nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/nope/123", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 3.0, testutil.ToFloat64(reqTotal.WithLabelValues("GET", "/mobile/poll/{challenge}", "202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reqTotal.WithLabelValues("GET", unmatchedRoute, "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(reqInflight))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "beout_http_requests_total")
	assert.False(t, strings.Contains(body, "aaa"), "challenge leaked into labels")
}

func TestRegister_ToleratesDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "x"})
	require.NoError(t, register(reg, c))
	require.NoError(t, register(reg, c))
}
