package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagedeploy/internal/manifest"
	"git.home.luguber.info/inful/pagedeploy/internal/runner"
	"git.home.luguber.info/inful/pagedeploy/internal/storage"
)

// recordingEmitter collects published messages in order.
type recordingEmitter struct {
	mu   sync.Mutex
	msgs []string
}

func (e *recordingEmitter) Publish(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, message)
}

func (e *recordingEmitter) Messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.msgs...)
}

func (e *recordingEmitter) count(prefix string) int {
	n := 0
	for _, m := range e.Messages() {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

// fakeCloner writes a fixed file set into the clone directory.
type fakeCloner struct {
	files map[string]string
	err   error
	calls int
}

func (c *fakeCloner) Clone(_ context.Context, _ string, dir string, sink runner.LineSink) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	sink(runner.Line{Stream: runner.StreamStderr, Text: "Cloning into '.'..."})
	for name, content := range c.files {
		mustWriteFile(filepath.Join(dir, name), content)
	}
	return nil
}

// fakeRunner maps a command name to a behaviour run inside the job directory.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	actions map[string]func(dir string, sink runner.LineSink) (int, error)
}

func (r *fakeRunner) Run(ctx context.Context, cmd runner.Command, sink runner.LineSink) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd.String())
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if act, ok := r.actions[cmd.String()]; ok {
		return act(cmd.Dir, sink)
	}
	return 0, nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// mustWriteFile is used from fakes that have no *testing.T at hand.
func mustWriteFile(path, content string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		panic(err)
	}
}

// buildsInto returns a runner action that writes files below dir/out.
func buildsInto(out string, files map[string]string) func(string, runner.LineSink) (int, error) {
	return func(dir string, sink runner.LineSink) (int, error) {
		sink(runner.Line{Stream: runner.StreamStdout, Text: "building for production..."})
		for name, content := range files {
			mustWriteFile(filepath.Join(dir, out, name), content)
		}
		return 0, nil
	}
}

type harness struct {
	cloner  *fakeCloner
	runner  *fakeRunner
	store   *storage.MemoryStore
	emitter *recordingEmitter
	orch    *Orchestrator
	job     *BuildJob
}

func newHarness(t *testing.T, files map[string]string) *harness {
	t.Helper()
	h := &harness{
		cloner:  &fakeCloner{files: files},
		runner:  &fakeRunner{actions: map[string]func(string, runner.LineSink) (int, error){}},
		store:   storage.NewMemoryStore(),
		emitter: &recordingEmitter{},
	}
	h.orch = NewOrchestrator(Dependencies{
		Cloner:  h.cloner,
		Runner:  h.runner,
		Store:   h.store,
		Emitter: h.emitter,
	}, Config{
		Install:    runner.Command{Name: "npm", Args: []string{"install"}},
		Build:      runner.Command{Name: "npm", Args: []string{"run", "build"}},
		OutputDirs: []string{"dist", "build"},
	})
	h.job = NewBuildJob("p1", "d1", "https://example.com/acme/site.git", t.TempDir())
	return h
}

func (h *harness) onBuild(act func(string, runner.LineSink) (int, error)) {
	h.runner.actions["npm run build"] = act
}

func TestRun_ViteProjectSucceeds(t *testing.T) {
	h := newHarness(t, map[string]string{
		manifest.FileName: `{"name":"site","scripts":{"build":"vite build"},"devDependencies":{"vite":"^5.0.0"}}`,
	})
	h.onBuild(buildsInto("dist", map[string]string{
		"index.html":    "<html></html>",
		"assets/app.js": "console.log(1)",
	}))

	require.NoError(t, h.orch.Run(context.Background(), h.job))

	assert.Equal(t, StatusSucceeded, h.job.Status)
	assert.Equal(t, StageOrder(), h.job.ExecutedStages())
	assert.Equal(t, manifest.FrameworkVite, h.job.Framework)

	data, err := os.ReadFile(filepath.Join(h.job.WorkDir, manifest.FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"build": "vite build --base=./"`)

	assert.Equal(t, []string{
		"__outputs/p1/assets/app.js",
		"__outputs/p1/index.html",
	}, h.store.PutOrder())
	obj, err := h.store.Get(context.Background(), "__outputs/p1/index.html")
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", obj.ContentType)

	msgs := h.emitter.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, MsgStarted, msgs[0])
	assert.Equal(t, MsgUploadComplete, msgs[len(msgs)-1])
	assert.Contains(t, msgs, "Detected Vite. Applying fix...")
	assert.Contains(t, msgs, "Uploaded assets/app.js")
	assert.Contains(t, msgs, "building for production...")
	assert.Zero(t, h.emitter.count("Error:"))
	assert.Equal(t, []string{"npm install", "npm run build"}, h.runner.Calls())
}

func TestRun_CreateReactAppFallsBackToBuildFolder(t *testing.T) {
	h := newHarness(t, map[string]string{
		manifest.FileName: `{"name":"cra","dependencies":{"react-scripts":"5.0.1"},"scripts":{"build":"react-scripts build"}}`,
	})
	h.onBuild(buildsInto("build", map[string]string{"index.html": "<html></html>"}))

	require.NoError(t, h.orch.Run(context.Background(), h.job))

	m, err := manifest.Load(filepath.Join(h.job.WorkDir, manifest.FileName))
	require.NoError(t, err)
	homepage, ok := m.Homepage()
	require.True(t, ok)
	assert.Equal(t, ".", homepage)
	assert.Equal(t, filepath.Join(h.job.WorkDir, "build"), h.job.OutputDir)
	assert.Equal(t, []string{"__outputs/p1/index.html"}, h.store.Keys())
	assert.Equal(t, 1, h.emitter.count(MsgCheckingOutput))
	assert.Contains(t, h.emitter.Messages(), "Detected Create React App. Applying fix...")
}

func TestRun_PrefersDistOverBuild(t *testing.T) {
	h := newHarness(t, nil)
	h.onBuild(func(dir string, sink runner.LineSink) (int, error) {
		mustWriteFile(filepath.Join(dir, "dist", "index.html"), "dist")
		mustWriteFile(filepath.Join(dir, "build", "index.html"), "build")
		return 0, nil
	})

	require.NoError(t, h.orch.Run(context.Background(), h.job))

	assert.Equal(t, filepath.Join(h.job.WorkDir, "dist"), h.job.OutputDir)
	obj, err := h.store.Get(context.Background(), "__outputs/p1/index.html")
	require.NoError(t, err)
	assert.Equal(t, "dist", string(obj.Data))
	assert.Zero(t, h.emitter.count(MsgCheckingOutput))
	assert.Equal(t, manifest.FrameworkNone, h.job.Framework, "no manifest is not an error")
}

func TestRun_MissingOutputDirectory(t *testing.T) {
	h := newHarness(t, map[string]string{manifest.FileName: `{"name":"plain"}`})

	err := h.orch.Run(context.Background(), h.job)
	require.Error(t, err)

	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonMissingOutputDirectory, se.Reason)
	assert.ErrorIs(t, err, ErrMissingOutputDirectory)
	assert.Equal(t, StatusFailed, h.job.Status)
	assert.Equal(t, ReasonMissingOutputDirectory, h.job.FailureReason)
	assert.Empty(t, h.store.Keys())
	assert.NotContains(t, h.job.ExecutedStages(), StageUpload)
	assert.Contains(t, h.emitter.Messages(), "Error: Could not find build folder (dist/ or build/)")
	assert.Equal(t, 1, h.emitter.count("Error:"))
}

func TestRun_CloneFailureStopsPipeline(t *testing.T) {
	h := newHarness(t, nil)
	h.cloner.err = errors.New("authentication required")

	err := h.orch.Run(context.Background(), h.job)
	require.Error(t, err)

	assert.Equal(t, ReasonCloneError, h.job.FailureReason)
	assert.Equal(t, []StageName{StageClone}, h.job.ExecutedStages())
	assert.Empty(t, h.runner.Calls(), "no command runs after a failed clone")
	assert.Empty(t, h.store.PutOrder())

	msgs := h.emitter.Messages()
	assert.Contains(t, msgs, MsgCloneAuthHint)
	assert.Equal(t, MsgCloneFailed, msgs[len(msgs)-1])
	assert.NotContains(t, msgs, MsgUploadComplete)
}

func TestRun_InstallFailureCarriesExitCode(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.actions["npm install"] = func(string, runner.LineSink) (int, error) { return 1, nil }

	err := h.orch.Run(context.Background(), h.job)
	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonInstallError, se.Reason)
	assert.Equal(t, StageInstall, se.Stage)
	assert.Equal(t, 1, se.ExitCode)
	assert.Equal(t, []string{"npm install"}, h.runner.Calls())
	assert.Contains(t, h.emitter.Messages(), "Error: Dependency installation failed (exit code 1)")
}

func TestRun_BuildSpawnErrorFailsBuildStage(t *testing.T) {
	h := newHarness(t, nil)
	h.onBuild(func(string, runner.LineSink) (int, error) {
		return -1, &runner.SpawnError{Command: "npm run build", Err: os.ErrNotExist}
	})

	err := h.orch.Run(context.Background(), h.job)
	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonBuildError, se.Reason)
	var spawnErr *runner.SpawnError
	assert.ErrorAs(t, err, &spawnErr)
	assert.Contains(t, h.emitter.Messages(), "Error: Build failed: could not start npm run build")
}

func TestRun_UploadFailureNamesFile(t *testing.T) {
	h := newHarness(t, nil)
	h.onBuild(buildsInto("dist", map[string]string{
		"a.css":      "a",
		"b.js":       "b",
		"index.html": "c",
	}))
	h.store.FailOn = func(key string) bool { return strings.HasSuffix(key, "/b.js") }

	err := h.orch.Run(context.Background(), h.job)
	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonUploadError, se.Reason)
	assert.Equal(t, "b.js", se.File)
	assert.Equal(t, []string{"__outputs/p1/a.css"}, h.store.PutOrder(), "abort on first failure")
	assert.Equal(t, 1, h.job.UploadedFiles)
	assert.Contains(t, h.emitter.Messages(), "Error: Upload failed for b.js")
	assert.NotContains(t, h.emitter.Messages(), MsgUploadComplete)
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.runner.actions["npm install"] = func(string, runner.LineSink) (int, error) {
		cancel()
		return -1, context.Canceled
	}

	err := h.orch.Run(ctx, h.job)
	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonCanceled, se.Reason)
	assert.Equal(t, StatusFailed, h.job.Status)
	assert.Equal(t, []string{"npm install"}, h.runner.Calls())
	assert.Contains(t, h.emitter.Messages(), "Error: Build canceled")
}

func TestRunStages_FailedAtMostOnce(t *testing.T) {
	job := NewBuildJob("p1", "d1", "", t.TempDir())
	boom := errors.New("boom")
	stages := NewPipeline().
		Add(StageDef{Name: StageClone, Fn: func(context.Context, *BuildJob) error { return nil }, Reason: ReasonCloneError}).
		Add(StageDef{Name: StageInstall, Fn: func(context.Context, *BuildJob) error { return boom }, Reason: ReasonInstallError}).
		Add(StageDef{Name: StageBuild, Fn: func(context.Context, *BuildJob) error {
			t.Fatal("stage after a failure must not run")
			return nil
		}, Reason: ReasonBuildError}).
		Build()

	emit := &recordingEmitter{}
	err := RunStages(context.Background(), job, stages, emit, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ReasonInstallError, job.FailureReason)

	assert.False(t, job.fail(ReasonBuildError, boom, job.FinishedAt))
	assert.False(t, job.succeed(job.FinishedAt))
	assert.Equal(t, ReasonInstallError, job.FailureReason)
	assert.Equal(t, []StageName{StageClone, StageInstall}, job.ExecutedStages())
	assert.Equal(t, []string{"Starting clone...", "Finished clone", "Starting install..."}, emit.Messages())
}

func TestPipelineBuilder_AddIf(t *testing.T) {
	noop := func(context.Context, *BuildJob) error { return nil }
	stages := NewPipeline().
		Add(StageDef{Name: StageClone, Fn: noop}).
		AddIf(false, StageDef{Name: StageInstall, Fn: noop}).
		AddIf(true, StageDef{Name: StageBuild, Fn: noop}).
		Build()
	require.Len(t, stages, 2)
	assert.Equal(t, StageBuild, stages[1].Name)
}

func TestOrchestrator_StageReasons(t *testing.T) {
	h := newHarness(t, nil)

	reasons := map[StageName]FailureReason{}
	for _, def := range h.orch.Stages() {
		reasons[def.Name] = def.Reason
	}
	assert.Equal(t, map[StageName]FailureReason{
		StageClone:           ReasonCloneError,
		StageDetectFramework: ReasonBuildError,
		StageInstall:         ReasonInstallError,
		StageBuild:           ReasonBuildError,
		StageLocateOutput:    ReasonMissingOutputDirectory,
		StageUpload:          ReasonUploadError,
	}, reasons)
}
