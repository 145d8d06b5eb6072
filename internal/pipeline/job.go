package pipeline

import (
	"time"

	"git.home.luguber.info/inful/pagedeploy/internal/manifest"
	"git.home.luguber.info/inful/pagedeploy/internal/metrics"
)

// Status is the lifecycle state of a build job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// FailureReason classifies why a job failed.
type FailureReason string

const (
	ReasonCloneError             FailureReason = "CloneError"
	ReasonInstallError           FailureReason = "InstallError"
	ReasonBuildError             FailureReason = "BuildError"
	ReasonMissingOutputDirectory FailureReason = "MissingOutputDirectory"
	ReasonUploadError            FailureReason = "UploadError"
	ReasonCanceled               FailureReason = "Canceled"
)

// StageRecord is one executed stage in a job's history.
type StageRecord struct {
	Stage    StageName
	Result   metrics.ResultLabel
	Duration time.Duration
}

// BuildJob is the state of one deployment build. Only the orchestrator and
// the stages it runs mutate it.
type BuildJob struct {
	ProjectID    string
	DeploymentID string
	RepoURL      string
	WorkDir      string

	CurrentStage  StageName
	Status        Status
	FailureReason FailureReason
	Err           error
	History       []StageRecord

	// Facts gathered by stages.
	Framework     manifest.Framework
	OutputDir     string
	UploadedFiles int

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewBuildJob creates a running job that builds inside workDir.
func NewBuildJob(projectID, deploymentID, repoURL, workDir string) *BuildJob {
	return &BuildJob{
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		RepoURL:      repoURL,
		WorkDir:      workDir,
		Status:       StatusRunning,
		Framework:    manifest.FrameworkNone,
	}
}

// fail moves the job to failed. It reports false when the job already finished.
func (j *BuildJob) fail(reason FailureReason, err error, at time.Time) bool {
	if j.Status != StatusRunning {
		return false
	}
	j.Status = StatusFailed
	j.FailureReason = reason
	j.Err = err
	j.FinishedAt = at
	return true
}

func (j *BuildJob) succeed(at time.Time) bool {
	if j.Status != StatusRunning {
		return false
	}
	j.Status = StatusSucceeded
	j.FinishedAt = at
	return true
}

// ExecutedStages lists the stages that ran, in order.
func (j *BuildJob) ExecutedStages() []StageName {
	out := make([]StageName, len(j.History))
	for i, r := range j.History {
		out[i] = r.Stage
	}
	return out
}

// Duration is the wall time from start to finish (or until now while running).
func (j *BuildJob) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
