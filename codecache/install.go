// install.go - Installation von Quelltexten und Binaries
// Enthaelt: InstallOptions, Install, installSource, installBinary,
// Aufloesung wartender Entry Points, Persistenz und Diagnosen

package codecache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ollama/offload/artifact"
	"github.com/ollama/offload/artifact/store"
	"github.com/ollama/offload/ml"
)

// InstallOptions control a single install.
type InstallOptions struct {
	// BuildOptions is passed to the device compiler.
	BuildOptions string

	// Force rebuilds even if an identical artifact is installed or its
	// build failed before.
	Force bool

	// Defer queues the entry point until a program of its task schedule
	// is installed. On FPGA targets the kernel object is still compiled.
	Defer bool
}

// Install compiles or loads a, registers it under (TaskID, EntryPoint) and
// returns the installed kernel. Installing an artifact identical to a
// cached one is a hit. A failed build returns *BuildError; the failure is
// cached so identical installs do not rebuild unless opts.Force is set.
// Deferred installs return a pending kernel that Lookup does not report.
func (c *CodeCache) Install(ctx context.Context, a Artifact, opts InstallOptions) (*InstalledKernel, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest := artifact.Sum(a.Data)
	if !opts.Force {
		if k, ok, err := c.cached(a, digest); ok {
			return k, err
		}
	}

	slog.Info("installing code into code cache", "device", c.info.DeviceID, "task", a.TaskID, "entry", a.EntryPoint, "binary", a.Binary)

	switch {
	case a.Binary:
		return c.installBinary(ctx, a.TaskID, a.EntryPoint, a.Data, digest)
	case c.isFPGA():
		return c.installFPGASource(ctx, a, digest, opts)
	case opts.Defer:
		c.dumpSource(a)
		c.mu.Lock()
		c.registerPending(PendingEntryPoint{TaskID: a.TaskID, EntryPoint: a.EntryPoint, Digest: digest})
		c.mu.Unlock()
		return pendingKernel(c.info.DeviceID, a, digest), nil
	default:
		return c.installSource(ctx, a, digest, opts)
	}
}

// cached reports a previous install of the same artifact: the valid
// kernel, or the cached build failure.
func (c *CodeCache) cached(a Artifact, digest artifact.Digest) (*InstalledKernel, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key{TaskID: a.TaskID, EntryPoint: a.EntryPoint}
	if k, ok := c.entries[key]; ok && k.Valid() && k.matches(digest) {
		c.stats.Hits++
		return k, true, nil
	}
	if k, ok := c.failed[key]; ok && k.matches(digest) {
		c.stats.Hits++
		return nil, true, &BuildError{TaskID: k.TaskID, EntryPoint: k.EntryPoint, Log: k.Log, LogPath: k.LogPath, Cached: true}
	}
	return nil, false, nil
}

func (k *InstalledKernel) matches(d artifact.Digest) bool {
	return k.Digest == d || (k.SourceDigest.IsValid() && k.SourceDigest == d)
}

func pendingKernel(dev ml.DeviceID, a Artifact, digest artifact.Digest) *InstalledKernel {
	return &InstalledKernel{
		TaskID:      a.TaskID,
		EntryPoint:  a.EntryPoint,
		Device:      dev,
		Status:      ml.BuildInProgress,
		Artifact:    a.Data,
		Digest:      digest,
		InstalledAt: time.Now(),
	}
}

func (c *CodeCache) installSource(ctx context.Context, a Artifact, digest artifact.Digest, opts InstallOptions) (*InstalledKernel, error) {
	program, err := c.dev.CreateProgramWithSource(a.Data)
	if err != nil {
		return nil, &ArtifactError{TaskID: a.TaskID, EntryPoint: a.EntryPoint, Err: err}
	}

	c.dumpSource(a)

	start := time.Now()
	if err := program.Build(opts.BuildOptions); err != nil {
		releaseProgram(program, a.TaskID, a.EntryPoint)
		return nil, fmt.Errorf("build %s-%s: %w", a.TaskID, a.EntryPoint, err)
	}
	c.mu.Lock()
	c.stats.Builds++
	c.mu.Unlock()

	k := &InstalledKernel{
		TaskID:      a.TaskID,
		EntryPoint:  a.EntryPoint,
		Device:      c.info.DeviceID,
		Program:     program,
		Status:      program.Status(),
		Log:         strings.TrimSpace(program.BuildLog()),
		Artifact:    a.Data,
		Digest:      digest,
		InstalledAt: time.Now(),
	}
	slog.Debug("compilation finished", "key", k.Key(), "status", k.Status, "duration", time.Since(start))

	if k.Status != ml.BuildSuccess {
		return nil, c.fail(k, a.Data)
	}

	kern, err := program.Kernel(a.EntryPoint)
	if err != nil {
		k.Status = ml.BuildError
		k.Log = strings.TrimSpace(k.Log + "\n" + err.Error())
		return nil, c.fail(k, a.Data)
	}
	k.Kernel = kern
	k.valid.Store(true)

	c.mu.Lock()
	c.put(k)
	delete(c.failed, k.Key())
	resolved := c.drainPending(k)
	c.mu.Unlock()

	if len(resolved) > 0 {
		slog.Debug("pending entry points resolved", "key", k.Key(), "resolved", resolved)
	}

	if bin, ok := c.programBinary(program); ok {
		c.persist(k, bin)
	}
	return k, nil
}

// installBinary loads binary for (task, entry). The lookup helper is also
// registered under the internal task, and pending entry points of the task
// schedule are resolved from the loaded program.
func (c *CodeCache) installBinary(ctx context.Context, task, entry string, binary []byte, digest artifact.Digest) (*InstalledKernel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := &InstalledKernel{
		TaskID:      task,
		EntryPoint:  entry,
		Device:      c.info.DeviceID,
		Artifact:    binary,
		Digest:      digest,
		Binary:      true,
		Status:      ml.BuildSuccess,
		InstalledAt: time.Now(),
	}

	if program, ok := c.sharedProgram(entry); ok {
		k.Program = program
		k.shared = true
	} else {
		program, err := c.dev.CreateProgramWithBinary(binary)
		if err != nil {
			return nil, &ArtifactError{TaskID: task, EntryPoint: entry, Err: fmt.Errorf("unable to load binary: %w", err)}
		}
		if err := program.Build(""); err != nil {
			releaseProgram(program, task, entry)
			return nil, fmt.Errorf("build %s-%s: %w", task, entry, err)
		}
		k.Program = program
		k.Status = program.Status()
		k.Log = strings.TrimSpace(program.BuildLog())

		c.mu.Lock()
		c.stats.BinaryLoads++
		c.mu.Unlock()
	}

	if k.Status != ml.BuildSuccess {
		slog.Warn("unable to install binary", "key", k.Key())
		return nil, c.fail(k, binary)
	}

	kern, err := k.Program.Kernel(entry)
	if err != nil {
		k.Status = ml.BuildError
		k.Log = strings.TrimSpace(k.Log + "\n" + err.Error())
		return nil, c.fail(k, binary)
	}
	k.Kernel = kern
	k.valid.Store(true)

	c.mu.Lock()
	c.put(k)
	delete(c.failed, k.Key())
	if entry == LookupBufferAddress {
		internal := &InstalledKernel{
			TaskID:      internalTask,
			EntryPoint:  entry,
			Device:      k.Device,
			Program:     k.Program,
			Kernel:      k.Kernel,
			Status:      k.Status,
			Artifact:    k.Artifact,
			Digest:      k.Digest,
			Binary:      true,
			InstalledAt: k.InstalledAt,
			shared:      true,
		}
		internal.valid.Store(true)
		c.put(internal)
	}
	resolved := c.drainPending(k)
	c.mu.Unlock()

	if len(resolved) > 0 {
		slog.Debug("pending entry points resolved", "key", k.Key(), "resolved", resolved)
	}

	if !k.shared {
		c.persist(k, binary)
	}
	return k, nil
}

// sharedProgram returns the installed lookup helper program if the device
// lets one compiled unit serve further entry points and the program
// exports entry.
func (c *CodeCache) sharedProgram(entry string) (ml.Program, bool) {
	if entry == LookupBufferAddress || !c.info.Has(ml.CapSharedProgram) {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lk, ok := c.entries[Key{TaskID: internalTask, EntryPoint: LookupBufferAddress}]
	if !ok || !lk.Valid() {
		return nil, false
	}
	if !containsKernel(lk.Program, entry) {
		return nil, false
	}
	c.stats.Reused++
	return lk.Program, true
}

func containsKernel(p ml.Program, entry string) bool {
	for _, name := range p.Kernels() {
		if name == entry {
			return true
		}
	}
	return false
}

// drainPending resolves queued entry points of owner's task schedule from
// owner's program. Entry points the program does not export stay queued.
// c.mu must be held.
func (c *CodeCache) drainPending(owner *InstalledKernel) []Key {
	schedule := scheduleOf(owner.TaskID)
	l, ok := c.pending[schedule]
	if !ok {
		return nil
	}

	var resolved []Key
	var remaining []PendingEntryPoint
	for _, p := range l.Values() {
		key := Key{TaskID: p.TaskID, EntryPoint: p.EntryPoint}
		if key == owner.Key() {
			if p.Digest.IsValid() {
				owner.SourceDigest = p.Digest
			}
			continue
		}

		kern, err := owner.Program.Kernel(p.EntryPoint)
		if err != nil {
			remaining = append(remaining, p)
			continue
		}

		k := &InstalledKernel{
			TaskID:       p.TaskID,
			EntryPoint:   p.EntryPoint,
			Device:       owner.Device,
			Program:      owner.Program,
			Kernel:       kern,
			Status:       ml.BuildSuccess,
			Artifact:     owner.Artifact,
			Digest:       owner.Digest,
			SourceDigest: p.Digest,
			Binary:       owner.Binary,
			InstalledAt:  time.Now(),
			shared:       true,
		}
		k.valid.Store(true)
		c.put(k)
		delete(c.failed, key)
		resolved = append(resolved, key)
	}

	l.Clear()
	if len(remaining) == 0 {
		delete(c.pending, schedule)
	} else {
		l.Add(remaining...)
	}
	return resolved
}

// fail records a failed build: diagnostics are written, the invalid entry
// is cached and a *BuildError is returned.
func (c *CodeCache) fail(k *InstalledKernel, source []byte) error {
	k.invalidate()

	logPath, err := c.cfg.Layout.WriteDiagnostics(k.TaskID, k.EntryPoint, k.Log, source)
	if err != nil {
		slog.Warn("unable to write error log", "key", k.Key(), "error", err)
	}
	k.LogPath = logPath

	slog.Error("unable to compile task", "key", k.Key(), "device", k.Device, "logs", logPath)
	if k.Log != "" {
		slog.Debug(k.Log)
	}

	if c.cfg.Index != nil {
		if _, err := c.cfg.Index.RecordFailure(store.Failure{
			Device:  k.Device.String(),
			Task:    k.TaskID,
			Entry:   k.EntryPoint,
			LogPath: logPath,
			Message: firstLine(k.Log),
		}); err != nil {
			slog.Warn("unable to index build failure", "key", k.Key(), "error", err)
		}
	}

	c.mu.Lock()
	c.stats.Failures++
	c.failed[k.Key()] = k
	c.put(k)
	c.mu.Unlock()

	return &BuildError{TaskID: k.TaskID, EntryPoint: k.EntryPoint, Log: k.Log, LogPath: logPath}
}

func (c *CodeCache) dumpSource(a Artifact) {
	if c.cfg.DumpSource {
		if path, err := c.cfg.Layout.WriteSource(a.TaskID, a.EntryPoint, a.Data); err != nil {
			slog.Warn("unable to dump source", "task", a.TaskID, "entry", a.EntryPoint, "error", err)
		} else {
			slog.Debug("source dumped", "path", path)
		}
	}
	if c.cfg.PrintSource {
		fmt.Fprintln(c.cfg.SourceOut, string(a.Data))
	}
}

// shouldPersist reports whether binaries are written to the cache
// directory. Apple platforms are excluded.
func (c *CodeCache) shouldPersist() bool {
	if !c.cfg.CacheEnable && !c.cfg.DumpBinaries {
		return false
	}
	return !strings.EqualFold(c.info.PlatformVendor, "apple") && !strings.EqualFold(c.info.Vendor, "apple")
}

func (c *CodeCache) programBinary(p ml.Program) ([]byte, bool) {
	if !c.shouldPersist() || !c.info.Has(ml.CapBinaryDump) {
		return nil, false
	}
	bin, err := p.Binary()
	if err != nil {
		slog.Warn("unable to dump program binary", "device", c.info.DeviceID, "error", err)
		return nil, false
	}
	return bin, true
}

// persist writes binary to the device directory and indexes it.
func (c *CodeCache) persist(k *InstalledKernel, binary []byte) {
	if !c.shouldPersist() {
		return
	}

	path, d, err := c.cfg.Layout.WriteBinary(c.info.DeviceID, k.EntryPoint, binary)
	if err != nil {
		slog.Warn("unable to persist binary", "key", k.Key(), "error", err)
		return
	}

	if c.cfg.Index != nil {
		if _, err := c.cfg.Index.RecordBinary(store.Binary{
			Device: c.info.DeviceID.String(),
			Task:   k.TaskID,
			Entry:  k.EntryPoint,
			Path:   path,
			Digest: d.String(),
			Size:   int64(len(binary)),
		}); err != nil {
			slog.Warn("unable to index binary", "key", k.Key(), "error", err)
		}
	}
}

// releaseProgram frees a program that never made it into the cache.
func releaseProgram(p ml.Program, task, entry string) {
	if err := p.Release(); err != nil {
		slog.Warn("release program", "task", task, "entry", entry, "error", err)
	}
}
