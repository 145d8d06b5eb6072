package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithJob(t *testing.T) {
	ctx := WithJob(context.Background(), "p1", "d1")

	lc := GetContext(ctx)
	if lc.ProjectID != "p1" || lc.DeploymentID != "d1" {
		t.Errorf("expected p1/d1, got %s/%s", lc.ProjectID, lc.DeploymentID)
	}
}

func TestWithStageKeepsJob(t *testing.T) {
	ctx := WithJob(context.Background(), "p1", "d1")
	ctx = WithStage(ctx, "clone")

	lc := GetContext(ctx)
	if lc.Stage != "clone" {
		t.Errorf("expected clone, got %s", lc.Stage)
	}
	if lc.ProjectID != "p1" {
		t.Errorf("expected project to survive, got %q", lc.ProjectID)
	}
}

func TestGetContextEmpty(t *testing.T) {
	if lc := GetContext(context.Background()); lc != (LogContext{}) {
		t.Errorf("expected empty context, got %+v", lc)
	}
}

func TestContextHandlerAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithStage(WithJob(context.Background(), "p1", "d1"), "install")
	logger.InfoContext(ctx, "Installing dependencies...", "extra", 1)

	out := buf.String()
	for _, want := range []string{"project_id=p1", "deployment_id=d1", "stage=install", "extra=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestContextHandlerWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil))).With("component", "proxy")

	logger.Info("plain")
	out := buf.String()
	if strings.Contains(out, "project_id") {
		t.Errorf("unexpected context attrs in %q", out)
	}
	if !strings.Contains(out, "component=proxy") {
		t.Errorf("expected handler attrs in %q", out)
	}
}

func TestContextHandlerSlug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil)))
	logger.WarnContext(WithSlug(context.Background(), "myapp"), "lookup failed")
	if !strings.Contains(buf.String(), "slug=myapp") {
		t.Errorf("expected slug in %q", buf.String())
	}
}
