package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// LookupLabel enumerates tenant lookup outcomes.
type LookupLabel string

const (
	LookupHit      LookupLabel = "hit"
	LookupMiss     LookupLabel = "miss"
	LookupNotFound LookupLabel = "not_found"
	LookupError    LookupLabel = "error"
)

// Recorder defines observability hooks for the build job and the proxy.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveBuildDuration(d time.Duration)
	// IncBuildOutcome counts finished jobs; reason is empty on success.
	IncBuildOutcome(status, reason string)
	AddUploadedFiles(n int)
	ObserveProxyRequest(status int, d time.Duration)
	IncTenantLookup(result LookupLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncBuildOutcome(string, string)             {}
func (NoopRecorder) AddUploadedFiles(int)                       {}
func (NoopRecorder) ObserveProxyRequest(int, time.Duration)     {}
func (NoopRecorder) IncTenantLookup(LookupLabel)                {}
