package metrics

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "pagedeploy"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
	uploadedFiles prom.Counter
	proxyDuration *prom.HistogramVec
	tenantLookups *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build job duration",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status and failure reason",
		}, []string{"status", "reason"}),
		uploadedFiles: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_files_total",
			Help:      "Artifact files uploaded to the object store",
		}),
		proxyDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Duration of proxied requests by response status",
			Buckets:   prom.DefBuckets,
		}, []string{"status"}),
		tenantLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_lookups_total",
			Help:      "Tenant slug lookups by result",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.buildDuration, pr.buildOutcome,
		pr.uploadedFiles, pr.proxyDuration, pr.tenantLookups)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(status, reason string) {
	p.buildOutcome.WithLabelValues(status, reason).Inc()
}

func (p *PrometheusRecorder) AddUploadedFiles(n int) {
	p.uploadedFiles.Add(float64(n))
}

func (p *PrometheusRecorder) ObserveProxyRequest(status int, d time.Duration) {
	p.proxyDuration.WithLabelValues(strconv.Itoa(status)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTenantLookup(result LookupLabel) {
	p.tenantLookups.WithLabelValues(string(result)).Inc()
}
