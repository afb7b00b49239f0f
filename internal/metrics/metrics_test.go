package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitPrometheusIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		InitPrometheus()
		InitPrometheus()
	})
}

func TestAnalysisCount(t *testing.T) {
	before := testutil.ToFloat64(AnalysisCount.WithLabelValues("completed"))
	AnalysisCount.WithLabelValues("completed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AnalysisCount.WithLabelValues("completed")))
}

func TestHandlerServesMetrics(t *testing.T) {
	InitPrometheus()
	AnalysisCount.WithLabelValues("failed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "analyses_total")
}
