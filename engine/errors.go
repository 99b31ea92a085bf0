// errors.go - Fehlertypen der Ausfuehrung
// Enthaelt: LaunchError, ArgumentError

package engine

import (
	"fmt"

	"github.com/ollama/offload/ml"
)

// LaunchError reports a device failure while submitting or running a
// kernel. The event of a failed launch, if any, is marked failed.
type LaunchError struct {
	TaskID     string
	EntryPoint string
	Device     ml.DeviceID

	// Event is the failed event; nil when the launch was rejected.
	Event ml.Event
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch of task %s-%s on %s failed: %v", e.TaskID, e.EntryPoint, e.Device, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ArgumentError reports an argument that cannot be placed in the frame.
type ArgumentError struct {
	Index int
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d: %v", e.Index, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
