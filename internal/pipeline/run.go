package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
	"git.home.luguber.info/inful/pagedeploy/internal/metrics"
	"git.home.luguber.info/inful/pagedeploy/internal/observability"
)

// Emitter receives the job's log lines. Publish must not block.
type Emitter interface {
	Publish(message string)
}

// RunStages executes stages in order, recording timing, and stops at the first
// failing stage. The returned error is a *StageError and the job is marked
// failed with its reason; later stages never run.
func RunStages(ctx context.Context, job *BuildJob, stages []StageDef, emit Emitter, rec metrics.Recorder) error {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			se := &StageError{Stage: st.Name, Reason: ReasonCanceled, Err: err}
			job.fail(se.Reason, se, time.Now())
			rec.IncStageResult(string(st.Name), metrics.ResultCanceled)
			return se
		}

		job.CurrentStage = st.Name
		emit.Publish(st.startMessage(job))
		stageCtx := observability.WithStage(ctx, string(st.Name))
		slog.DebugContext(stageCtx, "Stage started")

		t0 := time.Now()
		err := st.Fn(stageCtx, job)
		dur := time.Since(t0)
		rec.ObserveStageDuration(string(st.Name), dur)

		if err != nil {
			se := classify(ctx, st, err)
			result := metrics.ResultFailed
			if se.Reason == ReasonCanceled {
				result = metrics.ResultCanceled
			}
			job.History = append(job.History, StageRecord{Stage: st.Name, Result: result, Duration: dur})
			job.fail(se.Reason, se, time.Now())
			rec.IncStageResult(string(st.Name), result)
			slog.ErrorContext(stageCtx, "Stage failed",
				logfields.Reason(string(se.Reason)),
				logfields.DurationMS(float64(dur.Milliseconds())),
				logfields.Error(se.Err))
			return se
		}

		job.History = append(job.History, StageRecord{Stage: st.Name, Result: metrics.ResultSuccess, Duration: dur})
		rec.IncStageResult(string(st.Name), metrics.ResultSuccess)
		emit.Publish(st.doneMessage(job))
		slog.DebugContext(stageCtx, "Stage finished", logfields.DurationMS(float64(dur.Milliseconds())))
	}
	return nil
}

// classify turns a stage failure into the job's terminal error, keeping any
// detail the stage attached itself.
func classify(ctx context.Context, st StageDef, err error) *StageError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &StageError{Stage: st.Name, Reason: ReasonCanceled, Err: err}
	}
	if se, ok := AsStageError(err); ok {
		if se.Stage == "" {
			se.Stage = st.Name
		}
		if se.Reason == "" {
			se.Reason = st.Reason
		}
		return se
	}
	se := &StageError{Stage: st.Name, Reason: st.Reason, Err: err}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		se.ExitCode = exitErr.Code
	}
	return se
}
