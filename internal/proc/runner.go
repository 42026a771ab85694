// Package proc runs external tools as subprocesses, streaming their combined
// output line by line and reporting exit status as a value rather than an
// error. It is the single process-execution primitive used by the conversion,
// clipping, and batch-inference code.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const maxTailBytes = 8 * 1024 // tail of output kept for diagnostics

// Spec describes one subprocess invocation.
type Spec struct {
	Program string   // executable name or path; resolved via PATH before start
	Args    []string // arguments, excluding the program itself
	Dir     string   // working directory; empty = inherit
	Env     []string // extra environment entries appended to the parent's
}

// ExitResult is the outcome of a completed (or cancelled) subprocess.
type ExitResult struct {
	ExitCode  int
	Cancelled bool
	Duration  time.Duration
	Tail      string // last few KB of combined output
}

// Success reports whether the process ran to completion and exited zero.
func (r ExitResult) Success() bool { return r.ExitCode == 0 && !r.Cancelled }

// ToolNotFoundError indicates the executable could not be located before
// spawning.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Tool)
}

// IsToolNotFound reports whether err wraps a ToolNotFoundError.
func IsToolNotFound(err error) bool {
	var tnf *ToolNotFoundError
	return errors.As(err, &tnf)
}

// Runner executes subprocesses. Implementations must deliver output lines in
// the order the process emitted them and must not call onLine after Run
// returns.
type Runner interface {
	// Run starts the program and blocks until it exits or ctx is cancelled.
	// Every line of combined stdout+stderr is passed to onLine as it
	// arrives. A nil onLine discards output. Cancellation terminates the
	// child and yields ExitResult{Cancelled: true} with a nil error; a
	// non-zero exit code is likewise a result, not an error. The error
	// return is reserved for failures to locate or start the program.
	Run(ctx context.Context, spec Spec, onLine func(string)) (ExitResult, error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct {
	logger *slog.Logger

	// lookPath is swapped out in tests.
	lookPath func(string) (string, error)
}

// NewRunner creates an ExecRunner. logger may be nil.
func NewRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger, lookPath: exec.LookPath}
}

func (r *ExecRunner) Run(ctx context.Context, spec Spec, onLine func(string)) (ExitResult, error) {
	start := time.Now()

	path, err := r.lookPath(spec.Program)
	if err != nil {
		return ExitResult{}, &ToolNotFoundError{Tool: spec.Program}
	}

	cmd := exec.CommandContext(ctx, path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if r.logger != nil {
		r.logger.Debug("spawning subprocess", "program", path, "args", spec.Args, "dir", spec.Dir)
	}

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return ExitResult{}, fmt.Errorf("cannot start %s: %w", spec.Program, err)
	}

	tail := newTailBuffer(maxTailBytes)
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			tail.WriteLine(line)
			if onLine != nil {
				onLine(line)
			}
		}
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-done
	pr.Close()

	elapsed := time.Since(start)
	result := ExitResult{Duration: elapsed, Tail: tail.String()}

	if ctx.Err() != nil {
		result.Cancelled = true
		result.ExitCode = -1
		if r.logger != nil {
			r.logger.Info("subprocess cancelled", "program", spec.Program, "duration_ms", elapsed.Milliseconds())
		}
		return result, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if r.logger != nil {
			r.logger.Warn("subprocess failed",
				"program", spec.Program,
				"exit_code", result.ExitCode,
				"duration_ms", elapsed.Milliseconds(),
			)
		}
		return result, nil
	}

	if r.logger != nil {
		r.logger.Debug("subprocess succeeded", "program", spec.Program, "duration_ms", elapsed.Milliseconds())
	}
	return result, nil
}

// tailBuffer keeps only the last limit bytes of appended lines.
type tailBuffer struct {
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) WriteLine(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
}

func (t *tailBuffer) String() string { return string(t.buf) }
