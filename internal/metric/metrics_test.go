package metric_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/apicomposer/internal/metric"
)

func TestMetrics_Record(t *testing.T) {
	m := metric.NewMetrics()

	m.RecordProxyResponse("books", http.MethodGet, http.StatusOK, 20*time.Millisecond)
	m.RecordProxyResponse("books", http.MethodGet, http.StatusOK, 10*time.Millisecond)
	m.RecordProxyError("books", "timeout")
	m.RecordComposition("openapi", 2, 1)
	m.RecordDriftCheck("openapi", metric.DriftResultChanged)
	m.RecordUpstreamHealth("books", true)
	m.RecordSupergraph(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProxyRequests.WithLabelValues("books", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProxyErrors.WithLabelValues("books", "timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ComposedServices.WithLabelValues("openapi", "composed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComposedServices.WithLabelValues("openapi", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftChecks.WithLabelValues("openapi", "changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamHealth.WithLabelValues("books")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SupergraphFallback))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metric.Metrics
	assert.NotPanics(t, func() {
		m.RecordProxyResponse("books", http.MethodGet, http.StatusOK, time.Millisecond)
		m.RecordProxyError("books", "timeout")
		m.RecordComposition("openapi", 1, 0)
		m.RecordCompositionError("openapi")
		m.RecordDriftCheck("openapi", metric.DriftResultUnchanged)
		m.RecordGraphQLRequest("ok")
		m.RecordUpstreamHealth("books", false)
		m.RecordSupergraph(false)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := metric.NewMetrics()
	m.RecordGraphQLRequest("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `apicomposer_graphql_requests_total{outcome="ok"} 1`)
}
