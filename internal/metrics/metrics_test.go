package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	r.Execution("done", 200*time.Millisecond)
	r.Execution("failed", time.Second)
	r.Execution("done", time.Millisecond)
	r.Link("symlinked")
	r.Link("copied")
	r.Link("copied")
	r.OutputsRegistered(3)
	r.OutputsRegistered(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.executions.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.links.WithLabelValues("copied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.outputs))
}

func TestRecorderReusesRegisteredCollectors(t *testing.T) {
	reg := promclient.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.Link("failed")
	second.Link("failed")
	assert.Equal(t, 2.0, testutil.ToFloat64(second.links.WithLabelValues("failed")))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Execution("done", time.Second)
	r.Link("copied")
	r.OutputsRegistered(1)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	r.Execution("timeout", 5*time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `mntdata_executions_total{outcome="timeout"} 1`), body)
	assert.Contains(t, body, "mntdata_execution_duration_seconds_bucket")
}
