// Package telemetry delivers build log events to a broker or local store
// without blocking the pipeline that emits them.
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// LogEvent is one log line of a build job. Events are immutable once created.
type LogEvent struct {
	// ID deduplicates redeliveries at the sink.
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	DeploymentID string    `json:"deploymentId"`
	Message      string    `json:"log"`
	EmittedAt    time.Time `json:"emittedAt"`
}

// NewLogEvent creates an event tagged with the job identifiers.
func NewLogEvent(projectID, deploymentID, message string, at time.Time) LogEvent {
	return LogEvent{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		Message:      message,
		EmittedAt:    at.UTC(),
	}
}
