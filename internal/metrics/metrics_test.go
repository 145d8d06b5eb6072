package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveStageDuration("install", 150*time.Millisecond)
	pr.IncStageResult("install", ResultSuccess)
	pr.IncStageResult("build", ResultFailed)
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.IncBuildOutcome("failed", "BuildError")
	pr.AddUploadedFiles(3)
	pr.ObserveProxyRequest(200, 10*time.Millisecond)
	pr.IncTenantLookup(LookupHit)
	pr.IncTenantLookup(LookupHit)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 7)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	assert.Contains(t, out, `pagedeploy_stage_results_total{result="failed",stage="build"} 1`)
	assert.Contains(t, out, `pagedeploy_build_outcomes_total{reason="BuildError",status="failed"} 1`)
	assert.Contains(t, out, `pagedeploy_uploaded_files_total 3`)
	assert.Contains(t, out, `pagedeploy_tenant_lookups_total{result="hit"} 2`)
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).AddUploadedFiles(1)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pagedeploy_uploaded_files_total 1")
}

func TestPush(t *testing.T) {
	var mu sync.Mutex
	var method, path, body string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncBuildOutcome("succeeded", "")

	err := Push(context.Background(), gw.URL, "pagedeploy_build", reg, map[string]string{"project_id": "p1"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/pagedeploy_build"), path)
	assert.Contains(t, path, "project_id/p1")
	assert.NotEmpty(t, body)
}

func TestPush_GatewayError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	err := Push(context.Background(), gw.URL, "job", prom.NewRegistry(), nil)
	require.Error(t, err)
}
