// Package runner executes external commands and streams their output line by line.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
)

// Stream identifies which output stream a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

const (
	// DefaultMaxLineSize bounds a single output line; longer lines end the scan
	// for that stream and the remainder is discarded.
	DefaultMaxLineSize = 1024 * 1024
	// DefaultWaitDelay bounds how long output copying may outlive the process,
	// e.g. when a grandchild keeps the pipe open after a kill.
	DefaultWaitDelay = 5 * time.Second
)

// Line is one line of process output without its terminator.
type Line struct {
	Stream Stream
	Text   string
}

// LineSink receives output lines. Calls are serialized and, per stream, arrive
// in the order the process wrote them.
type LineSink func(Line)

// Command describes a process to start.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current process environment.
	Env []string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// ParseCommandLine splits a configured command string on whitespace.
// Quoting is not interpreted.
func ParseCommandLine(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	return Command{Name: fields[0], Args: fields[1:]}, nil
}

// SpawnError reports a process that could not be started at all.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Runner starts commands. The zero value is ready to use.
type Runner struct {
	MaxLineSize int
	WaitDelay   time.Duration
}

// New returns a Runner with default limits.
func New() *Runner {
	return &Runner{MaxLineSize: DefaultMaxLineSize, WaitDelay: DefaultWaitDelay}
}

// Run starts cmd, delivers every output line to sink and waits for exit.
//
// A non-zero exit is reported through the exit code with a nil error. A
// process that cannot start yields a *SpawnError. When ctx is canceled the
// process is killed and ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context, cmd Command, sink LineSink) (int, error) {
	if sink == nil {
		sink = func(Line) {}
	}

	// #nosec G204 -- commands come from operator configuration
	proc := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}
	proc.WaitDelay = r.waitDelay()

	var mu sync.Mutex
	deliver := func(l Line) {
		mu.Lock()
		defer mu.Unlock()
		sink(l)
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	proc.Stdout = outW
	proc.Stderr = errW

	var wg sync.WaitGroup
	wg.Add(2)
	go r.scan(&wg, outR, StreamStdout, deliver)
	go r.scan(&wg, errR, StreamStderr, deliver)

	closePipes := func() {
		_ = outW.Close()
		_ = errW.Close()
		wg.Wait()
	}

	if err := proc.Start(); err != nil {
		closePipes()
		return -1, &SpawnError{Command: cmd.String(), Err: err}
	}

	waitErr := proc.Wait()
	closePipes()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		if errors.Is(waitErr, exec.ErrWaitDelay) {
			return proc.ProcessState.ExitCode(), nil
		}
		return -1, fmt.Errorf("wait for %q: %w", cmd.String(), waitErr)
	}
	return 0, nil
}

func (r *Runner) scan(wg *sync.WaitGroup, rd *io.PipeReader, stream Stream, deliver LineSink) {
	defer wg.Done()
	scanner := bufio.NewScanner(rd)
	limit := r.maxLineSize()
	scanner.Buffer(make([]byte, 0, min(4096, limit)), limit)
	for scanner.Scan() {
		deliver(Line{Stream: stream, Text: scanner.Text()})
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Output scan stopped; discarding remainder",
			logfields.Stream(string(stream)),
			logfields.Error(err))
		_, _ = io.Copy(io.Discard, rd)
	}
}

func (r *Runner) maxLineSize() int {
	if r.MaxLineSize > 0 {
		return r.MaxLineSize
	}
	return DefaultMaxLineSize
}

func (r *Runner) waitDelay() time.Duration {
	if r.WaitDelay > 0 {
		return r.WaitDelay
	}
	return DefaultWaitDelay
}
