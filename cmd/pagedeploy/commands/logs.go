package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/pagedeploy/internal/config"
	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
	"git.home.luguber.info/inful/pagedeploy/internal/telemetry"
)

// LogsCmd implements the 'logs' command.
type LogsCmd struct {
	Deployment string `short:"d" help:"Deployment id (defaults to DEPLOYMENT_ID)"`
	Project    string `short:"p" help:"Show every deployment of this project instead"`
}

func (l *LogsCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	return RunLogs(context.Background(), g, cfg, l.Project, l.Deployment)
}

// RunLogs prints recorded events for a deployment, or for a whole project
// when projectID is set.
func RunLogs(ctx context.Context, g *Global, cfg *config.Config, projectID, deploymentID string) error {
	sink, err := telemetry.NewSQLiteSink(cfg.Telemetry.DBPath)
	if err != nil {
		return derrors.ConfigError("could not open log database").
			WithCause(err).
			WithContext("db_path", cfg.Telemetry.DBPath).
			Build()
	}
	defer func() { _ = sink.Close() }()

	var events []telemetry.LogEvent
	switch {
	case projectID != "":
		events, err = sink.ListByProject(ctx, projectID)
	case deploymentID != "":
		events, err = sink.ListByDeployment(ctx, deploymentID)
	default:
		// Load fills in a fresh deployment id when none is set, which would never match.
		return derrors.ValidationError("a deployment id or project id is required").Build()
	}
	if err != nil {
		return derrors.InternalError("could not read log events").WithCause(err).Build()
	}

	for _, ev := range events {
		_, _ = fmt.Fprintf(g.out(), "%s %s %s\n", ev.EmittedAt.Format(time.RFC3339), ev.DeploymentID, ev.Message)
	}
	return nil
}
