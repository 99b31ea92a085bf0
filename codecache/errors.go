// errors.go - Fehlertypen des Code-Cache
// Enthaelt: ArtifactError, BuildError, ConfigurationError, ErrPending

package codecache

import (
	"errors"
	"fmt"

	"github.com/ollama/offload/ml"
)

// ErrPending reports an entry point that waits for its program to be
// linked. It is not a failure.
var ErrPending = errors.New("codecache: entry point pending link")

// ArtifactError reports a malformed or unreadable kernel artifact.
type ArtifactError struct {
	TaskID     string
	EntryPoint string
	Err        error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("invalid artifact for %s-%s: %v", e.TaskID, e.EntryPoint, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// BuildError reports a compiler or linker failure. LogPath names the
// persisted diagnostics, if they could be written.
type BuildError struct {
	TaskID     string
	EntryPoint string
	Log        string
	LogPath    string

	// Cached is set when the failure was recorded by an earlier install.
	Cached bool
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("unable to compile task %s-%s", e.TaskID, e.EntryPoint)
	if e.LogPath != "" {
		msg += ": check logs at " + e.LogPath
	} else if e.Log != "" {
		msg += ": " + firstLine(e.Log)
	}
	return msg
}

func (e *BuildError) Is(target error) bool {
	return target == ml.ErrBuildFailure
}

// ConfigurationError reports a malformed manifest or device description.
type ConfigurationError struct {
	Source string
	Msg    string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration"
	if e.Source != "" {
		msg += " " + e.Source
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func firstLine(s string) string {
	for i := range len(s) {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
