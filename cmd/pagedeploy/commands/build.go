package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/pagedeploy/internal/config"
	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
	"git.home.luguber.info/inful/pagedeploy/internal/git"
	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
	"git.home.luguber.info/inful/pagedeploy/internal/metrics"
	"git.home.luguber.info/inful/pagedeploy/internal/pipeline"
	"git.home.luguber.info/inful/pagedeploy/internal/runner"
	"git.home.luguber.info/inful/pagedeploy/internal/storage"
	"git.home.luguber.info/inful/pagedeploy/internal/telemetry"
	"git.home.luguber.info/inful/pagedeploy/internal/workspace"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	KeepWorkspace bool `name:"keep-workspace" help:"Leave the workspace on disk after the job"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if b.KeepWorkspace {
		cfg.Build.KeepWorkspace = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunBuild(ctx, cfg, g.Logger)
}

// RunBuild executes one deployment described by cfg. Telemetry is drained
// before returning, whatever the outcome.
func RunBuild(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.ValidateBuild(cfg); err != nil {
		return err
	}
	bc := cfg.Build

	install, err := runner.ParseCommandLine(bc.InstallCommand)
	if err != nil {
		return derrors.ConfigError("invalid install command").WithCause(err).Build()
	}
	build, err := runner.ParseCommandLine(bc.BuildCommand)
	if err != nil {
		return derrors.ConfigError("invalid build command").WithCause(err).Build()
	}

	store, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	sink, err := openLogSink(cfg.Telemetry)
	if err != nil {
		return err
	}

	publisher := telemetry.NewPublisher(sink, telemetry.Options{
		ProjectID:    bc.ProjectID,
		DeploymentID: bc.DeploymentID,
		QueueSize:    cfg.Telemetry.QueueSize,
		Logger:       logger,
	})
	if err := publisher.Connect(ctx); err != nil {
		_ = publisher.Close()
		return derrors.ConfigError("could not connect log sink").
			WithCause(err).
			WithContext("sink", cfg.Telemetry.Sink).
			Build()
	}
	defer func() {
		if err := publisher.Drain(config.Duration(bc.DrainTimeout, config.DefaultDrainTimeout)); err != nil {
			logger.Warn("Log events lost", logfields.Error(err))
		}
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close log sink", logfields.Error(err))
		}
	}()

	ws := newWorkspace(bc)
	if err := ws.Create(); err != nil {
		return derrors.InternalError("could not prepare workspace").WithCause(err).Build()
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			logger.Warn("Failed to cleanup workspace", logfields.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	cmdRunner := runner.New()
	orch := pipeline.NewOrchestrator(pipeline.Dependencies{
		Cloner:   newCloner(bc.CloneStrategy, cmdRunner),
		Runner:   cmdRunner,
		Store:    store,
		Emitter:  publisher,
		Recorder: metrics.NewPrometheusRecorder(reg),
	}, pipeline.Config{
		Install:    install,
		Build:      build,
		OutputDirs: bc.OutputDirs,
	})

	job := pipeline.NewBuildJob(bc.ProjectID, bc.DeploymentID, bc.RepoURL, ws.Path())
	runErr := orch.Run(ctx, job)
	pushMetrics(ctx, cfg, reg, logger)

	if runErr != nil {
		var se *pipeline.StageError
		if errors.As(runErr, &se) {
			return derrors.BuildError(fmt.Sprintf("deployment failed: %s", se.Reason)).
				WithCause(runErr).
				WithContext("stage", string(se.Stage)).
				WithContext("deployment_id", bc.DeploymentID).
				Build()
		}
		return runErr
	}
	return nil
}

func newWorkspace(bc config.BuildConfig) *workspace.Manager {
	if bc.WorkDir != "" {
		return workspace.NewPersistentManager(bc.WorkDir)
	}
	return workspace.NewManager("", bc.DeploymentID).Keep(bc.KeepWorkspace)
}

func newCloner(strategy string, r *runner.Runner) git.Cloner {
	if strategy == config.CloneStrategyCommand {
		return &git.CommandCloner{Runner: r}
	}
	return &git.GoGitCloner{}
}

func openObjectStore(ctx context.Context, sc config.StorageConfig) (storage.ObjectStore, error) {
	switch sc.Driver {
	case config.StorageFS:
		store, err := storage.NewFSStore(sc.Directory)
		if err != nil {
			return nil, derrors.ConfigError("could not open filesystem store").WithCause(err).Build()
		}
		return store, nil
	default:
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			Endpoint:        sc.Endpoint,
			UsePathStyle:    sc.UsePathStyle,
		})
		if err != nil {
			return nil, derrors.ConfigError("could not create s3 client").WithCause(err).Build()
		}
		return store, nil
	}
}

func openLogSink(tc config.TelemetryConfig) (telemetry.Sink, error) {
	switch tc.Sink {
	case config.SinkNone:
		return telemetry.NoopSink{}, nil
	case config.SinkSQLite:
		sink, err := telemetry.NewSQLiteSink(tc.DBPath)
		if err != nil {
			return nil, derrors.ConfigError("could not open log database").WithCause(err).Build()
		}
		return sink, nil
	default:
		return telemetry.NewNATSSink(telemetry.NATSConfig{
			URL:          tc.NATSURL,
			Username:     tc.Username,
			Password:     tc.Password,
			Token:        tc.Token,
			Subject:      tc.Subject,
			Stream:       tc.Stream,
			CreateStream: tc.CreateStream,
			ClientName:   "pagedeploy-build",
		}), nil
	}
}

// pushMetrics sends the job's metrics to the Pushgateway when one is configured.
// A push failure never changes the job outcome.
func pushMetrics(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, logger *slog.Logger) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	grouping := map[string]string{
		"project_id":    cfg.Build.ProjectID,
		"deployment_id": cfg.Build.DeploymentID,
	}
	if err := metrics.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, reg, grouping); err != nil {
		logger.Warn("Metrics push failed", logfields.URL(cfg.Metrics.PushgatewayURL), logfields.Error(err))
	}
}
