package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrumentHandler_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/offers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/offers/{id}", "418"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/offers/42", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/offers/{id}", "418"))
	assert.Equal(t, before+1, after)
}

func TestRecordSearch(t *testing.T) {
	before := testutil.ToFloat64(searches.WithLabelValues("whatsapp"))
	RecordSearch("whatsapp")
	assert.Equal(t, before+1, testutil.ToFloat64(searches.WithLabelValues("whatsapp")))
}

func TestHandler_ServesRegistry(t *testing.T) {
	RecordJobRun("capture_holds", true)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "buscai_jobs_runs_total")
}
