package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/pagedeploy/internal/artifact"
	"git.home.luguber.info/inful/pagedeploy/internal/git"
	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
	"git.home.luguber.info/inful/pagedeploy/internal/manifest"
	"git.home.luguber.info/inful/pagedeploy/internal/metrics"
	"git.home.luguber.info/inful/pagedeploy/internal/observability"
	"git.home.luguber.info/inful/pagedeploy/internal/runner"
	"git.home.luguber.info/inful/pagedeploy/internal/storage"
)

// Messages emitted by the orchestrator that consumers of the log stream match on.
const (
	MsgStarted        = "Build Service Started..."
	MsgCloneAuthHint  = "Error: Authentication failed (Private Repo?) or Invalid URL"
	MsgCloneFailed    = "Error: Could not clone repository."
	MsgCheckingOutput = "Checking build folder..."
	MsgUploadComplete = "Upload completed"
)

// CommandRunner runs external commands; *runner.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, cmd runner.Command, sink runner.LineSink) (int, error)
}

// Config holds the commands and output candidates of a build.
type Config struct {
	Install runner.Command
	Build   runner.Command
	// OutputDirs are tried in order, relative to the workspace.
	OutputDirs []string
}

// Dependencies are the collaborators the orchestrator drives.
type Dependencies struct {
	Cloner   git.Cloner
	Runner   CommandRunner
	Store    storage.ObjectStore
	Emitter  Emitter
	Recorder metrics.Recorder
}

// Orchestrator drives one build job through the fixed stage order.
type Orchestrator struct {
	deps Dependencies
	cfg  Config
}

// NewOrchestrator wires the collaborators. A nil Recorder records nothing.
func NewOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	if len(cfg.OutputDirs) == 0 {
		cfg.OutputDirs = []string{"dist", "build"}
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Stages returns the stage definitions in execution order.
func (o *Orchestrator) Stages() []StageDef {
	return NewPipeline().
		Add(StageDef{
			Name:   StageClone,
			Fn:     o.stageClone,
			Reason: ReasonCloneError,
			Start:  func(j *BuildJob) string { return fmt.Sprintf("Cloning %s...", git.RedactURL(j.RepoURL)) },
			Done:   func(*BuildJob) string { return "Repository cloned" },
		}).
		Add(StageDef{
			Name: StageDetectFramework,
			Fn:   o.stageDetectFramework,
			// only a failed package.json write fails this stage
			Reason: ReasonBuildError,
			Start:  func(*BuildJob) string { return "Checking for frameworks..." },
			Done:   func(j *BuildJob) string { return fmt.Sprintf("Framework: %s", j.Framework) },
		}).
		Add(StageDef{
			Name:   StageInstall,
			Fn:     o.stageInstall,
			Reason: ReasonInstallError,
			Start:  func(*BuildJob) string { return "Installing dependencies..." },
			Done:   func(*BuildJob) string { return "Dependencies installed" },
		}).
		Add(StageDef{
			Name:   StageBuild,
			Fn:     o.stageBuild,
			Reason: ReasonBuildError,
			Start:  func(*BuildJob) string { return "Building project..." },
			Done:   func(*BuildJob) string { return "Build complete" },
		}).
		Add(StageDef{
			Name:   StageLocateOutput,
			Fn:     o.stageLocateOutput,
			Reason: ReasonMissingOutputDirectory,
			Start:  func(*BuildJob) string { return "Locating build output..." },
			Done: func(j *BuildJob) string {
				return fmt.Sprintf("Using build folder %s", filepath.Base(j.OutputDir))
			},
		}).
		Add(StageDef{
			Name:   StageUpload,
			Fn:     o.stageUpload,
			Reason: ReasonUploadError,
			Start:  func(*BuildJob) string { return "Upload started..." },
			Done:   func(j *BuildJob) string { return fmt.Sprintf("Uploaded %d file(s)", j.UploadedFiles) },
		}).
		Build()
}

// Run executes the job. On failure the job is marked failed, exactly one
// terminal failure event is emitted and the *StageError is returned.
func (o *Orchestrator) Run(ctx context.Context, job *BuildJob) error {
	ctx = observability.WithJob(ctx, job.ProjectID, job.DeploymentID)
	job.StartedAt = time.Now()
	o.deps.Emitter.Publish(MsgStarted)

	err := RunStages(ctx, job, o.Stages(), o.deps.Emitter, o.deps.Recorder)
	if err != nil {
		se, ok := AsStageError(err)
		if !ok {
			se = &StageError{Stage: job.CurrentStage, Reason: ReasonBuildError, Err: err}
			job.fail(se.Reason, se, time.Now())
		}
		o.deps.Emitter.Publish(o.failureMessage(se))
		o.deps.Recorder.ObserveBuildDuration(job.Duration())
		o.deps.Recorder.IncBuildOutcome(string(StatusFailed), string(se.Reason))
		return se
	}

	job.succeed(time.Now())
	o.deps.Emitter.Publish(MsgUploadComplete)
	o.deps.Recorder.ObserveBuildDuration(job.Duration())
	o.deps.Recorder.IncBuildOutcome(string(StatusSucceeded), "")
	slog.InfoContext(ctx, "Build job succeeded",
		slog.Int("files", job.UploadedFiles),
		logfields.DurationMS(float64(job.Duration().Milliseconds())))
	return nil
}

func (o *Orchestrator) failureMessage(se *StageError) string {
	switch se.Reason {
	case ReasonCloneError:
		return MsgCloneFailed
	case ReasonInstallError:
		return commandFailure("Dependency installation failed", se)
	case ReasonBuildError:
		if se.Stage == StageDetectFramework {
			return "Error: Could not update " + manifest.FileName
		}
		return commandFailure("Build failed", se)
	case ReasonMissingOutputDirectory:
		names := make([]string, len(o.cfg.OutputDirs))
		for i, d := range o.cfg.OutputDirs {
			names[i] = d + "/"
		}
		return fmt.Sprintf("Error: Could not find build folder (%s)", strings.Join(names, " or "))
	case ReasonUploadError:
		return fmt.Sprintf("Error: Upload failed for %s", se.File)
	case ReasonCanceled:
		return "Error: Build canceled"
	default:
		return "Error: " + se.Error()
	}
}

func commandFailure(what string, se *StageError) string {
	var spawnErr *runner.SpawnError
	if errors.As(se.Err, &spawnErr) {
		return fmt.Sprintf("Error: %s: could not start %s", what, spawnErr.Command)
	}
	return fmt.Sprintf("Error: %s (exit code %d)", what, se.ExitCode)
}

func (o *Orchestrator) lineSink() runner.LineSink {
	return func(l runner.Line) {
		o.deps.Emitter.Publish(l.Text)
	}
}

func (o *Orchestrator) stageClone(ctx context.Context, job *BuildJob) error {
	err := o.deps.Cloner.Clone(ctx, job.RepoURL, job.WorkDir, o.lineSink())
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	// auth failures and bad URLs look the same from here; keep the cause in the local log only
	slog.ErrorContext(ctx, "Cloning failed", logfields.URL(git.RedactURL(job.RepoURL)), logfields.Error(err))
	o.deps.Emitter.Publish(MsgCloneAuthHint)
	return err
}

func (o *Orchestrator) stageDetectFramework(ctx context.Context, job *BuildJob) error {
	path := filepath.Join(job.WorkDir, manifest.FileName)
	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.DebugContext(ctx, "No manifest found; skipping framework detection", logfields.Path(path))
			return nil
		}
		slog.WarnContext(ctx, "Unreadable manifest; skipping framework detection", logfields.Path(path), logfields.Error(err))
		o.deps.Emitter.Publish("Warning: could not read " + manifest.FileName + "; skipping framework detection")
		return nil
	}

	job.Framework = manifest.Detect(m)
	switch job.Framework {
	case manifest.FrameworkCreateReactApp:
		o.deps.Emitter.Publish("Detected Create React App. Applying fix...")
	case manifest.FrameworkVite:
		o.deps.Emitter.Publish("Detected Vite. Applying fix...")
	default:
		return nil
	}

	out, changed, err := manifest.Apply(m, job.Framework)
	if err != nil {
		slog.WarnContext(ctx, "Manifest rewrite skipped", logfields.Error(err))
		return nil
	}
	if !changed {
		return nil
	}
	if err := manifest.Save(path, out); err != nil {
		return fmt.Errorf("write %s: %w", manifest.FileName, err)
	}
	return nil
}

func (o *Orchestrator) stageInstall(ctx context.Context, job *BuildJob) error {
	return o.runCommand(ctx, job, o.cfg.Install)
}

func (o *Orchestrator) stageBuild(ctx context.Context, job *BuildJob) error {
	return o.runCommand(ctx, job, o.cfg.Build)
}

func (o *Orchestrator) runCommand(ctx context.Context, job *BuildJob, cmd runner.Command) error {
	cmd.Dir = job.WorkDir
	slog.DebugContext(ctx, "Running command", logfields.Command(cmd.String()), logfields.Path(cmd.Dir))
	code, err := o.deps.Runner.Run(ctx, cmd, o.lineSink())
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Command: cmd.String(), Code: code}
	}
	return nil
}

func (o *Orchestrator) stageLocateOutput(_ context.Context, job *BuildJob) error {
	for i, name := range o.cfg.OutputDirs {
		if i > 0 {
			o.deps.Emitter.Publish(MsgCheckingOutput)
		}
		candidate := filepath.Join(job.WorkDir, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			job.OutputDir = candidate
			return nil
		}
	}
	return ErrMissingOutputDirectory
}

func (o *Orchestrator) stageUpload(ctx context.Context, job *BuildJob) error {
	pub := artifact.NewPublisher(o.deps.Store, job.ProjectID)
	pub.OnUploaded = func(f artifact.File) {
		o.deps.Emitter.Publish("Uploaded " + f.RelativePath)
	}

	n, err := pub.Publish(ctx, job.OutputDir)
	job.UploadedFiles = n
	o.deps.Recorder.AddUploadedFiles(n)
	if err != nil {
		var uploadErr *artifact.UploadError
		if errors.As(err, &uploadErr) {
			return &StageError{Reason: ReasonUploadError, Err: err, File: uploadErr.RelativePath}
		}
		return err
	}
	return nil
}
