// Package toolchain - Aufruf externer Compiler-, Linker- und Aufraeum-Werkzeuge
//
// Funktionen zum synchronen Ausfuehren externer Kommandos:
// - Runner: Interface, in Tests durch RunnerFunc ersetzbar
// - ExecRunner: os/exec-Implementierung mit Single-Flight-Semaphore
// - ExternalToolError: Fehler bei Exit-Code ungleich 0
// - filteredEnv: Umgebungsvariablen fuer sicheres Logging
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ollama/offload/logutil"
)

// Command is one external tool invocation.
type Command struct {
	// Name identifies the tool in errors and logs, e.g. "xocc-link"
	Name string
	Path string
	Args []string

	// Dir is the working directory; empty means the current one
	Dir string

	// Env is appended to the process environment
	Env []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Result is the captured outcome of a command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes commands synchronously.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// ExternalToolError reports a command that could not start or exited with
// a non-zero status.
type ExternalToolError struct {
	Command  Command
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("external tool %s failed", e.Command.Name)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	msg += ": " + e.Command.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec, one at a time. Once a command has
// started it runs to completion; ctx only bounds the wait for the slot.
type ExecRunner struct {
	sem *semaphore.Weighted

	// Output, if set, receives a copy of stdout and stderr
	Output io.Writer
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{sem: semaphore.NewWeighted(1)}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer r.sem.Release(1)

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if r.Output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.Output)
		cmd.Stderr = io.MultiWriter(&stderr, r.Output)
	}

	slog.Info("running external tool", "tool", c.Name, "cmd", c.String())
	logutil.Trace("external tool environment", "env", filteredEnv(cmd.Env))

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		slog.Error("external tool failed", "tool", c.Name, "exit", res.ExitCode, "duration", res.Duration)
		return res, &ExternalToolError{Command: c, ExitCode: res.ExitCode, Stderr: stderr.String(), Err: err}
	}

	slog.Debug("external tool finished", "tool", c.Name, "duration", res.Duration)
	return res, nil
}

// filteredEnv filtert Umgebungsvariablen fuer sicheres Logging
type filteredEnv []string

func (e filteredEnv) LogValue() slog.Value {
	var attrs []slog.Attr
	for _, env := range e {
		if key, value, ok := strings.Cut(env, "="); ok {
			switch {
			case strings.HasPrefix(key, "OFFLOAD_"),
				strings.HasPrefix(key, "XILINX_"),
				strings.HasPrefix(key, "INTELFPGA"),
				strings.HasPrefix(key, "AOCL_"),
				slices.Contains([]string{
					"PATH",
					"LD_LIBRARY_PATH",
				}, key):
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	return slog.GroupValue(attrs...)
}
