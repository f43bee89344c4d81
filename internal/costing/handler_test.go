package costing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
	"github.com/aydarnuman/catering-pro-sub001/internal/units"
)

func serve(t *testing.T, f *fixture, method, path string) (int, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api/v1", NewHandler(nil, f.svc).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestHandlerRecomputeRecipe(t *testing.T) {
	f := newFixture(t)

	code, body := serve(t, f, http.MethodPost, "/api/v1/recipes/1/recompute")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "30", body["cost"])
	lines := body["lines"].([]any)
	require.Len(t, lines, 2)
	first := lines[0].(map[string]any)
	require.Equal(t, "Pirinç", first["name"])
	require.Equal(t, "20", first["line_cost"])
	require.Equal(t, "PIYASA", first["price_source"])

	rollup := body["rollup"].(map[string]any)
	require.Len(t, rollup["items"], 3)
	require.EqualValues(t, 0, rollup["failed"])
}

func TestHandlerRecipeEditReachesPlan(t *testing.T) {
	f := newFixture(t)
	f.prices.set(10, "40", units.Kilogram, pricing.SourceMarket)

	code, body := serve(t, f, http.MethodPost, "/api/v1/recipes/1/recompute")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "90", body["cost"])
	require.True(t, f.store.slots[1].TotalCost.Equal(d("90")))
	require.True(t, f.store.plans[1].TotalCost.Equal(d("90")))
}

func TestHandlerRecomputeMealAndPlan(t *testing.T) {
	f := newFixture(t)
	code, _ := serve(t, f, http.MethodPost, "/api/v1/recipes/1/recompute")
	require.Equal(t, http.StatusOK, code)

	code, body := serve(t, f, http.MethodPost, "/api/v1/meals/1/recompute")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "30", body["total_cost"])
	require.Equal(t, "3", body["portion_cost"])
	require.EqualValues(t, 10, body["people"])

	code, body = serve(t, f, http.MethodPost, "/api/v1/plans/1/recompute")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "30", body["daily_average_cost"])
	require.Equal(t, "3", body["portion_average_cost"])
}

func TestHandlerRecomputePlanTree(t *testing.T) {
	f := newFixture(t)

	code, body := serve(t, f, http.MethodPost, "/api/v1/plans/1/recompute?tree=1")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["run_id"])
	require.EqualValues(t, 0, body["failed"])
	succeeded := body["succeeded"].(map[string]any)
	require.EqualValues(t, 1, succeeded["recipe"])
	require.EqualValues(t, 1, succeeded["meal_slot"])
	require.EqualValues(t, 1, succeeded["plan"])
	require.Len(t, body["items"], 3)
}

func TestHandlerProductRollup(t *testing.T) {
	f := newFixture(t)

	code, body := serve(t, f, http.MethodPost, "/api/v1/products/11/rollup")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, body["failed"])
	require.Len(t, body["items"], 3)
}

func TestHandlerNotFoundAndBadID(t *testing.T) {
	f := newFixture(t)

	code, body := serve(t, f, http.MethodPost, "/api/v1/recipes/404/recompute")
	require.Equal(t, http.StatusNotFound, code)
	require.Contains(t, body["detail"], "recipe not found")

	code, _ = serve(t, f, http.MethodPost, "/api/v1/plans/404/recompute?tree=1")
	require.Equal(t, http.StatusNotFound, code)

	code, _ = serve(t, f, http.MethodPost, "/api/v1/meals/zero/recompute")
	require.Equal(t, http.StatusBadRequest, code)
}
