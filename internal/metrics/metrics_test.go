package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(InstrumentHandler("/metrics"))
	router.HandleFunc("/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/widgets/{id}", "418"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/widgets/42", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/widgets/{id}", "418"))
	if after != before+1 {
		t.Errorf("requests_total = %v, want %v", after, before+1)
	}
}

func TestRecorders(t *testing.T) {
	RecordError(404)
	if got := testutil.ToFloat64(httpErrors.WithLabelValues("404")); got < 1 {
		t.Errorf("errors_total{404} = %v", got)
	}

	SetWorkers("cluster", 3)
	if got := testutil.ToFloat64(workersLive.WithLabelValues("cluster")); got != 3 {
		t.Errorf("workers{cluster} = %v", got)
	}

	RecordWorkerExit("fork", "restarted")
	if got := testutil.ToFloat64(workerExits.WithLabelValues("fork", "restarted")); got < 1 {
		t.Errorf("worker_exits_total = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	SetRoutes("widgets", 5)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `ceres_router_routes{controller="widgets"} 5`) {
		t.Error("expected routes gauge in exposition")
	}
}
