// manifest.go - Manifest vorkompilierter Binaries
// Enthaelt: ManifestEntry, ParseManifest, LoadPrecompiled,
// PrecompiledBinary, InstallPrecompiled

package codecache

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ollama/offload/artifact"
)

// ManifestEntry maps a precompiled binary to a task.
type ManifestEntry struct {
	Path string

	// Task is the task id, e.g. "s0.t0".
	Task string

	// Device is the optional device selector, e.g. "device=0:1".
	Device string
}

// ParseManifest parses a precompiled binary manifest. s is either a comma
// separated list of "path,task.entry.device" pairs, or the path of a file
// holding such pairs one per line. Blank lines and lines starting with
// "#" are ignored.
func ParseManifest(s string) ([]ManifestEntry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	source := "manifest"
	fields := splitList(s)
	if len(fields) == 1 {
		source = fields[0]
		var err error
		fields, err = readManifestFile(fields[0])
		if err != nil {
			return nil, err
		}
	}

	if len(fields)%2 != 0 {
		return nil, &ConfigurationError{Source: source, Msg: fmt.Sprintf("odd number of elements (%d), want <path>,<task>.<entry>.<device> pairs", len(fields))}
	}

	entries := make([]ManifestEntry, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		parts := strings.Split(fields[i+1], ".")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, &ConfigurationError{Source: source, Msg: fmt.Sprintf("invalid task %q, want <schedule>.<task>[.<device>]", fields[i+1])}
		}
		entries = append(entries, ManifestEntry{
			Path:   fields[i],
			Task:   parts[0] + "." + parts[1],
			Device: strings.Join(parts[2:], "."),
		})
	}
	return entries, nil
}

func splitList(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func readManifestFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Msg: "file not found", Err: err}
	}
	defer f.Close()

	var fields []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields = append(fields, splitList(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, &ConfigurationError{Source: path, Msg: "read", Err: err}
	}
	return fields, nil
}

// deviceSelector is the manifest device selector of this cache's device.
func (c *CodeCache) deviceSelector() string {
	return fmt.Sprintf("device=%d:%d", c.info.Index, c.info.PlatformIndex)
}

// LoadPrecompiled registers manifest entries for this device. Entries
// selecting another device are skipped. Every entry also provides the
// lookup helper.
func (c *CodeCache) LoadPrecompiled(entries []ManifestEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		if e.Device != "" && e.Device != c.deviceSelector() {
			slog.Debug("precompiled binary for other device", "task", e.Task, "device", e.Device, "path", e.Path)
			continue
		}
		c.precompiled[e.Task] = e.Path
		c.precompiled[LookupBufferAddress] = e.Path
	}
}

// PrecompiledBinary returns the binary path registered for task.
func (c *CodeCache) PrecompiledBinary(task string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path, ok := c.precompiled[task]
	return path, ok
}

// InstallPrecompiled installs the precompiled binary of task for entry.
func (c *CodeCache) InstallPrecompiled(ctx context.Context, task, entry string) (*InstalledKernel, error) {
	path, ok := c.PrecompiledBinary(task)
	if !ok {
		return nil, &ArtifactError{TaskID: task, EntryPoint: entry, Err: fmt.Errorf("no precompiled binary for task %s", task)}
	}

	bin, _, err := artifact.ReadBinary(path)
	if err != nil {
		return nil, &ArtifactError{TaskID: task, EntryPoint: entry, Err: err}
	}
	return c.Install(ctx, Artifact{TaskID: task, EntryPoint: entry, Data: bin, Binary: true}, InstallOptions{})
}
