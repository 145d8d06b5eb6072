// Package observability carries job and request identifiers in a context and
// stamps them onto every slog record logged with that context.
package observability

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
)

// LogContext holds structured logging context information.
type LogContext struct {
	ProjectID    string
	DeploymentID string
	Stage        string
	Slug         string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithJob adds the build job identifiers to the context.
func WithJob(ctx context.Context, projectID, deploymentID string) context.Context {
	lc := extractLogContext(ctx)
	lc.ProjectID = projectID
	lc.DeploymentID = deploymentID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithStage adds a stage name to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	lc := extractLogContext(ctx)
	lc.Stage = stage
	return context.WithValue(ctx, logContextKey, lc)
}

// WithSlug adds the request's tenant slug to the context.
func WithSlug(ctx context.Context, slug string) context.Context {
	lc := extractLogContext(ctx)
	lc.Slug = slug
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if ctx == nil {
		return LogContext{}
	}
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

// Attrs returns the non-empty context fields as slog attributes.
func (lc LogContext) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)
	if lc.ProjectID != "" {
		attrs = append(attrs, logfields.ProjectID(lc.ProjectID))
	}
	if lc.DeploymentID != "" {
		attrs = append(attrs, logfields.DeploymentID(lc.DeploymentID))
	}
	if lc.Stage != "" {
		attrs = append(attrs, logfields.Stage(lc.Stage))
	}
	if lc.Slug != "" {
		attrs = append(attrs, logfields.Slug(lc.Slug))
	}
	return attrs
}

// ContextHandler decorates records with the LogContext of the context they
// were logged with. Attributes the caller sets explicitly are kept as well.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled reports whether next handles level.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle adds the context attributes and forwards the record.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := extractLogContext(ctx).Attrs(); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs returns a handler whose records carry attrs.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup returns a handler that nests later attributes under name.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
