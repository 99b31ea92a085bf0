// Package artifact persists code-cache artifacts on disk: device binaries,
// dumped kernel sources and build diagnostics.
//
// Modul: layout.go - Verzeichnis-Layout und atomare Schreibvorgaenge
// Enthaelt: Layout, DeviceDir, WriteBinary, ReadBinary, WriteSource,
// WriteDiagnostics, StageSource
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ollama/offload/envconfig"
	"github.com/ollama/offload/ml"
)

// SourceSuffix is appended to dumped and staged kernel sources.
const SourceSuffix = ".cl"

// maxBinarySize bounds ReadBinary.
const maxBinarySize = 1 << 30

// ErrEmptyBinary is returned by ReadBinary for zero-length files.
var ErrEmptyBinary = errors.New("artifact: empty input binary")

// Layout names the directories artifacts are written to. Directories are
// created on first write.
//
//	<CacheDir>/
//	  device-<platform>-<device>/
//	    <entry> - <program binary>
//	<SourceDir>/
//	  <task>-<entry>.cl
//	<LogDir>/
//	  <task>-<entry>.log
//	  <task>-<entry>.cl
type Layout struct {
	CacheDir  string
	SourceDir string
	LogDir    string
}

// DefaultLayout returns the layout configured through the environment.
func DefaultLayout() Layout {
	return Layout{
		CacheDir:  envconfig.CacheDir(),
		SourceDir: envconfig.SourceDir(),
		LogDir:    envconfig.LogDir(),
	}
}

// DeviceDir is the binary directory of one device.
func (l Layout) DeviceDir(id ml.DeviceID) string {
	return filepath.Join(l.CacheDir, id.Dir())
}

// BinaryPath is where WriteBinary stores the binary of entry.
func (l Layout) BinaryPath(id ml.DeviceID, entry string) string {
	return filepath.Join(l.DeviceDir(id), entry)
}

// WriteBinary atomically writes a program binary for entry and returns
// its path and digest.
func (l Layout) WriteBinary(id ml.DeviceID, entry string, data []byte) (string, Digest, error) {
	if entry == "" {
		return "", Digest{}, errors.New("artifact: empty entry point")
	}
	path := l.BinaryPath(id, entry)
	if err := writeFileAtomic(path, data); err != nil {
		return "", Digest{}, err
	}
	d := Sum(data)
	slog.Debug("binary persisted", "device", id, "entry", entry, "path", path, "digest", d.Short(), "size", len(data))
	return path, d, nil
}

// ReadBinary reads a binary written by WriteBinary or an external
// toolchain. Empty files are rejected.
func ReadBinary(path string) ([]byte, Digest, error) {
	data, d, err := readAndSum(path, maxBinarySize)
	if err != nil {
		return nil, Digest{}, err
	}
	if len(data) == 0 {
		return nil, Digest{}, fmt.Errorf("%w: %s", ErrEmptyBinary, path)
	}
	return data, d, nil
}

// WriteSource dumps the source of a task entry point to the source
// directory.
func (l Layout) WriteSource(task, entry string, source []byte) (string, error) {
	path := filepath.Join(l.SourceDir, identifier(task, entry)+SourceSuffix)
	if err := writeFileAtomic(path, source); err != nil {
		return "", err
	}
	return path, nil
}

// WriteDiagnostics stores the build log and the offending source of a
// failed build. It returns the log path.
func (l Layout) WriteDiagnostics(task, entry, log string, source []byte) (string, error) {
	base := filepath.Join(l.LogDir, identifier(task, entry))
	logPath := base + ".log"

	err := errors.Join(
		writeFileAtomic(logPath, []byte(log)),
		writeFileAtomic(base+SourceSuffix, source),
	)
	if err != nil {
		return "", fmt.Errorf("write diagnostics: %w", err)
	}
	return logPath, nil
}

// StageSource writes source into the staging file name+".cl" in dir. With
// fresh the file is truncated first, otherwise source is appended.
func StageSource(dir, name string, source []byte, fresh bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name+SourceSuffix)
	flag := os.O_WRONLY | os.O_CREATE
	if fresh {
		flag |= os.O_TRUNC
	} else {
		flag |= os.O_APPEND
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(source); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func identifier(task, entry string) string {
	return task + "-" + entry
}

// writeFileAtomic writes data to a temp file next to name and renames it
// into place, so readers never observe a partial binary.
func writeFileAtomic(name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(name)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), name)
}
