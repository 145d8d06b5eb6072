package telemetry

import "errors"

var (
	// ErrDrainTimeout is returned when events are still outstanding at the drain deadline.
	ErrDrainTimeout = errors.New("telemetry drain timed out")
	// ErrNotConnected is returned by sinks used before Connect.
	ErrNotConnected = errors.New("telemetry sink not connected")
)
