package commands

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"git.home.luguber.info/inful/pagedeploy/internal/config"
	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
	"git.home.luguber.info/inful/pagedeploy/internal/tenant"
)

// ProjectCmd groups the project registry commands.
type ProjectCmd struct {
	Add  ProjectAddCmd  `cmd:"" help:"Register a project under a slug"`
	List ProjectListCmd `cmd:"" help:"List registered projects"`
}

// ProjectAddCmd implements 'project add'.
type ProjectAddCmd struct {
	ID   string `arg:"" help:"Project id (artifact prefix below base_path)"`
	Slug string `arg:"" help:"Sub-domain slug the proxy routes on"`
}

func (a *ProjectAddCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	return RunProjectAdd(context.Background(), g, cfg, tenant.Project{ID: a.ID, SubDomain: a.Slug})
}

// RunProjectAdd registers p in the configured store.
func RunProjectAdd(ctx context.Context, g *Global, cfg *config.Config, p tenant.Project) error {
	store, err := openProjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Add(ctx, p); err != nil {
		switch {
		case errors.Is(err, tenant.ErrInvalidProject):
			return derrors.ValidationError(err.Error()).Build()
		case errors.Is(err, tenant.ErrDuplicateSubDomain):
			return derrors.ValidationError("slug already registered").
				WithContext("slug", p.SubDomain).
				Build()
		default:
			return derrors.InternalError("could not register project").WithCause(err).Build()
		}
	}
	_, _ = fmt.Fprintf(g.out(), "Registered %s -> %s\n", p.SubDomain, p.ID)
	return nil
}

// ProjectListCmd implements 'project list'.
type ProjectListCmd struct{}

func (l *ProjectListCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	return RunProjectList(context.Background(), g, cfg)
}

// RunProjectList prints every registered project, ordered by slug.
func RunProjectList(ctx context.Context, g *Global, cfg *config.Config) error {
	store, err := openProjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	projects, err := store.List(ctx)
	if err != nil {
		return derrors.InternalError("could not list projects").WithCause(err).Build()
	}
	tw := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SLUG\tPROJECT ID")
	for _, p := range projects {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", p.SubDomain, p.ID)
	}
	return tw.Flush()
}

// projectStore is a tenant.Store that holds a resource.
type projectStore interface {
	tenant.Store
	Close() error
}

// openProjectStore opens the projects file when one is configured and the
// database otherwise.
func openProjectStore(ctx context.Context, cfg *config.Config) (projectStore, error) {
	if cfg.Router.ProjectsFile != "" {
		fs, err := tenant.NewFileStore(cfg.Router.ProjectsFile)
		if err != nil {
			return nil, derrors.ConfigError("could not load projects file").
				WithCause(err).
				WithContext("projects_file", cfg.Router.ProjectsFile).
				Build()
		}
		return fs, nil
	}
	if err := config.ValidateDatabase(cfg); err != nil {
		return nil, err
	}
	store, err := tenant.OpenSQLStore(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, derrors.ConfigError("could not open project database").
			WithCause(err).
			WithContext("driver", cfg.Database.Driver).
			Build()
	}
	return store, nil
}
