// types.go - Typen der Status-API
// Enthaelt: StatusError, DeviceResponse, KernelResponse, PendingResponse,
// StatsResponse, BinaryResponse, FailureResponse
package api

import (
	"fmt"
	"time"

	"github.com/ollama/offload/ml"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the offload server logs for details"
	}
}

// DeviceResponse describes one device of the runtime context.
type DeviceResponse struct {
	Index        int           `json:"index"`
	ID           ml.DeviceID   `json:"id"`
	Name         string        `json:"name"`
	Vendor       string        `json:"vendor,omitempty"`
	Type         string        `json:"type"`
	Capabilities string        `json:"capabilities,omitempty"`
	Features     []string      `json:"features,omitempty"`
	TotalMemory  uint64        `json:"total_memory,omitempty"`
	ComputeUnits int           `json:"compute_units,omitempty"`
	Stats        StatsResponse `json:"stats"`
}

// ListDevicesResponse is the response from [Client.Devices].
type ListDevicesResponse struct {
	Devices []DeviceResponse `json:"devices"`
}

// StatsResponse holds the counters of a device's code cache and residency
// tracker.
type StatsResponse struct {
	Hits        int `json:"hits"`
	Misses      int `json:"misses"`
	Builds      int `json:"builds"`
	BinaryLoads int `json:"binary_loads"`
	Failures    int `json:"failures"`
	Reused      int `json:"reused"`
	Links       int `json:"links"`

	Allocations int `json:"allocations"`
	CopiesIn    int `json:"copies_in"`
	CopiesOut   int `json:"copies_out"`
}

// KernelResponse describes one code cache entry.
type KernelResponse struct {
	TaskID      string    `json:"task_id"`
	EntryPoint  string    `json:"entry_point"`
	Status      string    `json:"status"`
	Valid       bool      `json:"valid"`
	Binary      bool      `json:"binary"`
	Digest      string    `json:"digest"`
	LogPath     string    `json:"log_path,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

// ListKernelsResponse is the response from [Client.Kernels].
type ListKernelsResponse struct {
	Kernels []KernelResponse `json:"kernels"`
}

// PendingResponse is an entry point waiting for its program.
type PendingResponse struct {
	TaskID     string `json:"task_id"`
	EntryPoint string `json:"entry_point"`
}

type ListPendingResponse struct {
	Pending []PendingResponse `json:"pending"`
}

// BinaryResponse is a persisted program binary from the artifact index.
type BinaryResponse struct {
	Device    string    `json:"device"`
	TaskID    string    `json:"task_id"`
	Entry     string    `json:"entry_point"`
	Path      string    `json:"path"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type ListBinariesResponse struct {
	Binaries []BinaryResponse `json:"binaries"`
}

// FailureResponse is a failed build from the artifact index.
type FailureResponse struct {
	Device    string    `json:"device"`
	TaskID    string    `json:"task_id"`
	Entry     string    `json:"entry_point"`
	LogPath   string    `json:"log_path"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type ListFailuresResponse struct {
	Failures []FailureResponse `json:"failures"`
}
