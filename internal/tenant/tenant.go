// Package tenant resolves the slug of an incoming request to the project
// whose build artifacts it serves.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/pagedeploy/internal/artifact"
)

// Project is a deployed site. SubDomain is the public slug and is unique
// across projects; ID names the artifact prefix.
type Project struct {
	ID        string `yaml:"id"         json:"id"`
	SubDomain string `yaml:"sub_domain" json:"subDomain"`
}

// Resolver looks a project up by slug. Implementations are safe for
// concurrent use and return ErrNotFound for unknown slugs.
type Resolver interface {
	Resolve(ctx context.Context, slug string) (*Project, error)
}

// Store is a Resolver that can also enumerate and register projects.
type Store interface {
	Resolver
	Add(ctx context.Context, p Project) error
	List(ctx context.Context) ([]Project, error)
}

var (
	// ErrNotFound is returned when no project has the requested slug.
	ErrNotFound = errors.New("project not found")
	// ErrInvalidProject is returned for projects without an id or slug.
	ErrInvalidProject = errors.New("invalid project")
	// ErrDuplicateSubDomain is returned when a slug is already taken.
	ErrDuplicateSubDomain = errors.New("sub domain already in use")
)

// Validate checks the fields every store requires.
func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.SubDomain) == "" {
		return ErrInvalidProject
	}
	if strings.Contains(p.SubDomain, "/") {
		return ErrInvalidProject
	}
	if err := artifact.ValidateProjectID(p.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProject, err)
	}
	return nil
}

// Context key for storing the resolved project in a request context.
type contextKey string

const projectContextKey contextKey = "project"

// WithProject stores a resolved project in the context.
func WithProject(ctx context.Context, p *Project) context.Context {
	return context.WithValue(ctx, projectContextKey, p)
}

// FromContext retrieves the project stored by WithProject.
func FromContext(ctx context.Context) (*Project, bool) {
	p, ok := ctx.Value(projectContextKey).(*Project)
	return p, ok && p != nil
}
