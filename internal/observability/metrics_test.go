package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobCollectors(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("pricing:anomaly_sweep").End(nil)
	metrics.Jobs().AddCorrections("kg", 2)

	body := scrape(t, metrics)
	require.Contains(t, body, `costengine_jobs_total{job="pricing:anomaly_sweep",status="success"} 1`)
	require.Contains(t, body, `costengine_price_corrections_total{unit_type="kg"} 2`)
}

func TestMetricsMiddlewareLabelsArea(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/v1/recipes/{id}/recompute")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/1/recompute", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `costengine_http_requests_total{area="costing",code="418",route="/api/v1/recipes/{id}/recompute"} 1`)
	require.Contains(t, body, `costengine_http_request_duration_seconds_bucket{area="costing",route="/api/v1/recipes/{id}/recompute",le="30"} 1`)
}

func TestRouteArea(t *testing.T) {
	cases := map[string]string{
		"/api/v1/prices/{productID}":   AreaPricing,
		"/api/v1/anomalies/sweep":      AreaPricing,
		"/api/v1/plans/{id}/recompute": AreaCosting,
		"/api/v1/products/{id}/rollup": AreaCosting,
		"/api/v1/meals/{id}/recompute": AreaCosting,
		"/jobs/health":                 AreaOps,
		"unmatched":                    AreaOps,
	}
	for route, want := range cases {
		require.Equal(t, want, RouteArea(route), route)
	}
}

func TestNilMetrics(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Nil(t, metrics.Jobs())

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	require.NotNil(t, metrics.Middleware(next))
}
