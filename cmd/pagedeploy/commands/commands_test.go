package commands

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	ggit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagedeploy/internal/config"
	derrors "git.home.luguber.info/inful/pagedeploy/internal/foundation/errors"
	"git.home.luguber.info/inful/pagedeploy/internal/pipeline"
	"git.home.luguber.info/inful/pagedeploy/internal/server/httpserver"
	"git.home.luguber.info/inful/pagedeploy/internal/storage"
	"git.home.luguber.info/inful/pagedeploy/internal/telemetry"
	"git.home.luguber.info/inful/pagedeploy/internal/tenant"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// initSiteRepo commits a project whose build output is already checked in,
// so the build command can be a no-op.
func initSiteRepo(t *testing.T) string {
	t.Helper()

	repoPath := t.TempDir()
	repo, err := ggit.PlainInit(repoPath, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	files := map[string]string{
		"package.json":       `{"name":"site","dependencies":{"vite":"^5.0.0"}}`,
		"dist/index.html":    "<h1>site</h1>",
		"dist/assets/app.js": "console.log(1)",
		"public/robots.txt":  "User-agent: *",
	}
	for name, content := range files {
		full := filepath.Join(repoPath, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
		_, err = wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &ggit.CommitOptions{Author: &object.Signature{Name: "t", Email: "t@example.invalid", When: time.Now()}})
	require.NoError(t, err)
	return repoPath
}

func buildEnv(t *testing.T, repoURL string) (objects, logDB string) {
	t.Helper()
	dir := t.TempDir()
	objects = filepath.Join(dir, "objects")
	logDB = filepath.Join(dir, "logs.db")

	t.Setenv("PROJECT_ID", "p1")
	t.Setenv("DEPLOYMENT_ID", "d1")
	t.Setenv("GIT_REPO_URL", repoURL)
	t.Setenv("STORAGE_DRIVER", config.StorageFS)
	t.Setenv("STORAGE_DIR", objects)
	t.Setenv("LOG_SINK", config.SinkSQLite)
	t.Setenv("LOG_DB", logDB)
	t.Setenv("INSTALL_COMMAND", "true")
	t.Setenv("BUILD_COMMAND", "true")
	return objects, logDB
}

func deploymentMessages(t *testing.T, logDB string) []string {
	t.Helper()
	sink, err := telemetry.NewSQLiteSink(logDB)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	events, err := sink.ListByDeployment(context.Background(), "d1")
	require.NoError(t, err)
	msgs := make([]string, len(events))
	for i, ev := range events {
		msgs[i] = ev.Message
	}
	return msgs
}

func TestRunBuild_PublishesCheckedInOutput(t *testing.T) {
	objects, logDB := buildEnv(t, initSiteRepo(t))
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.NoError(t, RunBuild(context.Background(), cfg, quietLogger()))

	store, err := storage.NewFSStore(objects)
	require.NoError(t, err)
	obj, err := store.Get(context.Background(), "__outputs/p1/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>site</h1>", string(obj.Data))
	_, err = store.Get(context.Background(), "__outputs/p1/assets/app.js")
	require.NoError(t, err)

	msgs := deploymentMessages(t, logDB)
	require.NotEmpty(t, msgs)
	assert.Equal(t, pipeline.MsgStarted, msgs[0])
	assert.Equal(t, pipeline.MsgUploadComplete, msgs[len(msgs)-1])
	assert.Contains(t, msgs, "Detected Vite. Applying fix...")
	assert.Contains(t, msgs, "Uploaded index.html")
}

func TestRunBuild_CloneFailure(t *testing.T) {
	_, logDB := buildEnv(t, filepath.Join(t.TempDir(), "missing-repo"))
	cfg, err := config.Load("")
	require.NoError(t, err)

	err = RunBuild(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	classified, ok := derrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, derrors.CategoryBuild, classified.Category())
	assert.Equal(t, 1, derrors.NewCLIErrorAdapter(false, quietLogger()).ExitCodeFor(err))

	msgs := deploymentMessages(t, logDB)
	assert.Contains(t, msgs, pipeline.MsgCloneFailed)
	assert.NotContains(t, msgs, pipeline.MsgUploadComplete)
}

func TestRunBuild_InvalidConfig(t *testing.T) {
	t.Setenv("PROJECT_ID", "")
	t.Setenv("GIT_REPO_URL", "")
	cfg, err := config.Load("")
	require.NoError(t, err)

	err = RunBuild(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	classified, ok := derrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, derrors.CategoryConfig, classified.Category())
}

func TestRunLogs(t *testing.T) {
	buildEnv(t, initSiteRepo(t))
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, RunBuild(context.Background(), cfg, quietLogger()))

	var out bytes.Buffer
	g := &Global{Out: &out}
	require.NoError(t, RunLogs(context.Background(), g, cfg, "", "d1"))
	assert.Contains(t, out.String(), pipeline.MsgUploadComplete)

	out.Reset()
	require.NoError(t, RunLogs(context.Background(), g, cfg, "p1", ""))
	assert.Contains(t, out.String(), pipeline.MsgStarted)

	require.Error(t, RunLogs(context.Background(), g, cfg, "", ""))
}

func TestProjectCommands_Database(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver: config.DatabaseSQLite,
		DSN:    filepath.Join(t.TempDir(), "projects.db"),
	}}
	var out bytes.Buffer
	g := &Global{Out: &out}
	ctx := context.Background()

	require.NoError(t, RunProjectAdd(ctx, g, cfg, tenant.Project{ID: "proj-9", SubDomain: "acme"}))
	require.NoError(t, RunProjectAdd(ctx, g, cfg, tenant.Project{ID: "proj-1", SubDomain: "beta"}))

	err := RunProjectAdd(ctx, g, cfg, tenant.Project{ID: "proj-2", SubDomain: "acme"})
	require.Error(t, err)
	classified, ok := derrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, derrors.CategoryValidation, classified.Category())

	out.Reset()
	require.NoError(t, RunProjectList(ctx, g, cfg))
	assert.Regexp(t, `(?s)SLUG\s+PROJECT ID\nacme\s+proj-9\nbeta\s+proj-1\n`, out.String())
}

func TestProjectCommands_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte("projects: []\n"), 0o600))
	cfg := &config.Config{Router: config.RouterConfig{ProjectsFile: path}}
	g := &Global{Out: io.Discard}

	require.NoError(t, RunProjectAdd(context.Background(), g, cfg, tenant.Project{ID: "p1", SubDomain: "site"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sub_domain: site")

	err = RunProjectAdd(context.Background(), g, cfg, tenant.Project{ID: "", SubDomain: "x"})
	require.Error(t, err)
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	var out bytes.Buffer
	g := &Global{Out: &out}

	require.NoError(t, RunInit(g, path, false))
	assert.Contains(t, out.String(), "initialized successfully")
	require.FileExists(t, path)

	require.Error(t, RunInit(g, path, false), "existing file needs --force")
	require.NoError(t, RunInit(g, path, true))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestProxyService_RoutesToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "upstream "+r.URL.Path)
	}))
	defer upstream.Close()

	projects := filepath.Join(t.TempDir(), "projects.yaml")
	require.NoError(t, os.WriteFile(projects, []byte("projects:\n  - id: proj-9\n    sub_domain: acme\n"), 0o600))

	t.Setenv("BASE_PATH", upstream.URL+"/__outputs/")
	t.Setenv("PORT", strconv.Itoa(freePort(t)))
	t.Setenv("PROJECTS_FILE", projects)
	cfg, err := config.Load("")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, err := newProxyService(ctx, cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	defer func() { require.NoError(t, svc.Stop(context.Background())) }()

	_, port, err := net.SplitHostPort(svc.Addr())
	require.NoError(t, err)
	base := "http://127.0.0.1:" + port

	resp, err := http.Get(base + "/acme/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upstream /__outputs/proj-9/index.html", string(body))

	resp, err = http.Get(base + "/unknown/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(base + httpserver.MetricsPath)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "pagedeploy_tenant_lookups_total")
}

func TestProxyService_InvalidConfig(t *testing.T) {
	cfg := &config.Config{Router: config.RouterConfig{Port: 8000}}
	_, err := newProxyService(context.Background(), cfg, quietLogger())
	require.Error(t, err)
}
