package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/go-git/go-git/v5"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
	"git.home.luguber.info/inful/pagedeploy/internal/runner"
)

// Cloner clones repoURL into the existing, empty directory dir. Progress
// output is delivered line by line to sink (which may be nil).
type Cloner interface {
	Clone(ctx context.Context, repoURL, dir string, sink runner.LineSink) error
}

// GoGitCloner clones in-process with go-git.
type GoGitCloner struct {
	// Depth limits history; zero clones everything.
	Depth int
}

// Clone implements Cloner.
func (c *GoGitCloner) Clone(ctx context.Context, repoURL, dir string, sink runner.LineSink) error {
	if repoURL == "" {
		return errors.New("repository url is empty")
	}
	slog.Debug("Cloning repository", logfields.URL(RedactURL(repoURL)), logfields.Path(dir))

	progress := newLineWriter(sink)
	defer progress.Flush()

	repository, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:      repoURL,
		Depth:    c.Depth,
		Progress: progress,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classifyCloneError(RedactURL(repoURL), err)
	}

	if ref, herr := repository.Head(); herr == nil {
		slog.Info("Repository cloned successfully",
			logfields.URL(RedactURL(repoURL)),
			slog.String("commit", ref.Hash().String()[:8]),
			logfields.Path(dir))
	} else {
		slog.Info("Repository cloned successfully", logfields.URL(RedactURL(repoURL)), logfields.Path(dir))
	}
	return nil
}

// CommandCloner runs `git clone <url> .` inside dir.
type CommandCloner struct {
	Runner *runner.Runner
	// Binary defaults to "git".
	Binary string
}

// Clone implements Cloner.
func (c *CommandCloner) Clone(ctx context.Context, repoURL, dir string, sink runner.LineSink) error {
	if repoURL == "" {
		return errors.New("repository url is empty")
	}
	r := c.Runner
	if r == nil {
		r = runner.New()
	}
	bin := c.Binary
	if bin == "" {
		bin = "git"
	}

	cmd := runner.Command{
		Name: bin,
		Args: []string{"clone", repoURL, "."},
		Dir:  dir,
		// never block on a credential prompt
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	}
	code, err := r.Run(ctx, cmd, sink)
	if err != nil {
		return fmt.Errorf("git clone %s: %w", RedactURL(repoURL), err)
	}
	if code != 0 {
		return &ExitError{URL: RedactURL(repoURL), Code: code}
	}
	return nil
}

// RedactURL masks the password or token of a URL with embedded credentials.
// Strings that do not parse as URLs (e.g. scp-like ssh addresses) are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// lineWriter adapts go-git's progress writer to a line sink. Both '\n' and
// '\r' terminate a line since progress counters rewrite in place.
type lineWriter struct {
	sink runner.LineSink
	buf  bytes.Buffer
}

func newLineWriter(sink runner.LineSink) *lineWriter {
	return &lineWriter{sink: sink}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.sink == nil {
		return len(p), nil
	}
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.emit()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

func (w *lineWriter) emit() {
	if w.buf.Len() == 0 {
		return
	}
	w.sink(runner.Line{Stream: runner.StreamStderr, Text: w.buf.String()})
	w.buf.Reset()
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	if w.sink != nil {
		w.emit()
	}
}

// EnsureEmptyDir creates dir if needed and reports whether it has entries,
// since git refuses to clone into a non-empty directory.
func EnsureEmptyDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("clone target %s is not empty", dir)
	}
	return nil
}
