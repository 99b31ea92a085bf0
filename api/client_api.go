// Package api - API-Methoden des Clients.
// Dieses Modul enthaelt alle Aufrufe der Status-API.

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Devices lists the devices of the runtime with their counters.
func (c *Client) Devices(ctx context.Context) (*ListDevicesResponse, error) {
	var lr ListDevicesResponse
	if err := c.do(ctx, http.MethodGet, "/api/devices", nil, nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Kernels lists the code cache entries of a device, failed builds included.
func (c *Client) Kernels(ctx context.Context, device int) (*ListKernelsResponse, error) {
	var lr ListKernelsResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/devices/%d/kernels", device), nil, nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Pending lists the entry points of a device waiting for their program.
func (c *Client) Pending(ctx context.Context, device int) (*ListPendingResponse, error) {
	var lr ListPendingResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/devices/%d/pending", device), nil, nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Binaries lists persisted binaries, optionally filtered by device id.
func (c *Client) Binaries(ctx context.Context, device string) (*ListBinariesResponse, error) {
	q := url.Values{}
	if device != "" {
		q.Set("device", device)
	}

	var lr ListBinariesResponse
	if err := c.do(ctx, http.MethodGet, "/api/binaries", q, nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Failures lists the most recent failed builds.
func (c *Client) Failures(ctx context.Context, limit int) (*ListFailuresResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var lr ListFailuresResponse
	if err := c.do(ctx, http.MethodGet, "/api/failures", q, nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Reset drops every installed kernel and device buffer of the runtime.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/reset", nil, nil, nil)
}

// Version returns the server version as a string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version struct {
		Version string `json:"version"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/version", nil, nil, &version); err != nil {
		return "", err
	}

	return version.Version, nil
}

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.do(ctx, http.MethodHead, "/", nil, nil, nil); err != nil {
		return err
	}
	return nil
}
