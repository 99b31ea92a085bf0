// Package codecache compiles kernel artifacts for one device and keeps the
// installed kernels keyed by task id and entry point.
//
// Modul: cache.go - Registry, Lookup, Reset und Snapshots
// Enthaelt: Artifact, Key, InstalledKernel, Config, CodeCache
package codecache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/v2/lists/arraylist"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/offload/artifact"
	"github.com/ollama/offload/artifact/store"
	"github.com/ollama/offload/envconfig"
	"github.com/ollama/offload/ml"
	"github.com/ollama/offload/toolchain"
)

// LookupBufferAddress is the entry point of the helper kernel every
// device program carries. On FPGA targets its bitstream is the linked
// program of all task kernels.
const LookupBufferAddress = "lookupBufferAddress"

// internalTask is the task id under which the lookup helper is kept.
const internalTask = "internal"

// Artifact is the opaque output of the code generator for one kernel.
type Artifact struct {
	TaskID     string
	EntryPoint string
	Data       []byte

	// Binary marks Data as a device binary rather than source text.
	Binary bool
}

func (a Artifact) validate() error {
	var errs []error
	if a.TaskID == "" {
		errs = append(errs, errors.New("empty task id"))
	}
	if a.EntryPoint == "" {
		errs = append(errs, errors.New("empty entry point"))
	}
	if len(a.Data) == 0 {
		errs = append(errs, errors.New("empty artifact data"))
	}
	if err := errors.Join(errs...); err != nil {
		return &ArtifactError{TaskID: a.TaskID, EntryPoint: a.EntryPoint, Err: err}
	}
	return nil
}

// Key identifies an installed kernel.
type Key struct {
	TaskID     string
	EntryPoint string
}

func (k Key) String() string {
	return k.TaskID + "-" + k.EntryPoint
}

// InstalledKernel is a compiled entry point owned by the cache. Callers
// must not release its program or kernel; use CodeCache.Reset.
type InstalledKernel struct {
	TaskID     string
	EntryPoint string
	Device     ml.DeviceID

	Program ml.Program
	Kernel  ml.Kernel
	Status  ml.BuildStatus
	Log     string
	LogPath string

	// Artifact holds the installed source or binary bytes.
	Artifact []byte
	Digest   artifact.Digest
	Binary   bool

	// SourceDigest is the digest of the artifact the caller installed when
	// it differs from Artifact, e.g. the source of an FPGA kernel.
	SourceDigest artifact.Digest

	InstalledAt time.Time

	// shared is set when Program belongs to another entry.
	shared bool
	valid  atomic.Bool
}

func (k *InstalledKernel) Key() Key {
	return Key{TaskID: k.TaskID, EntryPoint: k.EntryPoint}
}

// Valid reports whether the kernel was built and has not been reset.
func (k *InstalledKernel) Valid() bool {
	return k.valid.Load()
}

// Pending reports a kernel waiting for its program to be linked.
func (k *InstalledKernel) Pending() bool {
	return k.Status == ml.BuildInProgress && !k.Valid()
}

func (k *InstalledKernel) invalidate() {
	k.valid.Store(false)
}

// PendingEntryPoint is an entry point waiting for the program of its task
// schedule.
type PendingEntryPoint struct {
	TaskID     string
	EntryPoint string

	// Digest is the digest of the deferred source, if any.
	Digest artifact.Digest
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits        int `json:"hits"`
	Misses      int `json:"misses"`
	Builds      int `json:"builds"`
	BinaryLoads int `json:"binary_loads"`
	Failures    int `json:"failures"`
	Reused      int `json:"reused"`
	Links       int `json:"links"`
}

// Config controls persistence, diagnostics and the external toolchain.
type Config struct {
	Layout artifact.Layout

	// Index, if set, records persisted binaries and build failures.
	Index *store.Store

	// Runner invokes external compilers; nil means toolchain.NewExecRunner.
	Runner toolchain.Runner

	CacheEnable  bool
	DumpBinaries bool
	DumpSource   bool
	PrintSource  bool

	// SourceOut receives printed sources; nil means os.Stdout.
	SourceOut io.Writer

	// FPGA describes the accelerator toolchain. Caches for accelerator
	// devices load it from FPGAConfigFile when nil.
	FPGA           *FPGAConfig
	FPGAConfigFile string
	Emulation      bool
	CleanupScript  string

	// Precompiled is the manifest of precompiled binaries.
	Precompiled string
}

// DefaultConfig reads the configuration from the environment.
func DefaultConfig() Config {
	return Config{
		Layout:        artifact.DefaultLayout(),
		CacheEnable:   envconfig.CacheEnable(),
		DumpBinaries:  envconfig.DumpBinaries(),
		DumpSource:    envconfig.DumpSource(),
		PrintSource:   envconfig.PrintSource(),
		Emulation:     envconfig.FPGAEmulation(),
		CleanupScript: envconfig.CleanupScript(),
		Precompiled:   envconfig.PrecompiledBinaries(),
	}
}

// CodeCache is the kernel registry of one device. It is safe for
// concurrent use.
type CodeCache struct {
	dev  ml.Device
	info ml.DeviceInfo
	cfg  Config

	mu      sync.RWMutex
	entries map[Key]*InstalledKernel
	failed  map[Key]*InstalledKernel
	pending map[string]*arraylist.List[PendingEntryPoint]
	stats   Stats

	// pipeMu serializes the FPGA pipeline, which shares one staging file.
	pipeMu      sync.Mutex
	linkObjects *orderedmap.OrderedMap[string, string]
	precompiled map[string]string
}

// New creates the cache for dev. For accelerator devices the FPGA
// description and the precompiled manifest are loaded; failures are
// returned as *ConfigurationError.
func New(dev ml.Device, cfg Config) (*CodeCache, error) {
	if cfg.Runner == nil {
		cfg.Runner = toolchain.NewExecRunner()
	}
	if cfg.SourceOut == nil {
		cfg.SourceOut = os.Stdout
	}

	c := &CodeCache{
		dev:         dev,
		info:        dev.Info(),
		cfg:         cfg,
		entries:     make(map[Key]*InstalledKernel),
		failed:      make(map[Key]*InstalledKernel),
		pending:     make(map[string]*arraylist.List[PendingEntryPoint]),
		linkObjects: orderedmap.New[string, string](),
		precompiled: make(map[string]string),
	}

	if c.isFPGA() && c.cfg.FPGA == nil {
		path := cfg.FPGAConfigFile
		if path == "" {
			path = envconfig.FPGAConfigFile(c.vendor())
		}
		fc, err := LoadFPGAConfig(path)
		if err != nil {
			return nil, err
		}
		c.cfg.FPGA = fc
	}

	if cfg.Precompiled != "" {
		entries, err := ParseManifest(cfg.Precompiled)
		if err != nil {
			return nil, err
		}
		c.LoadPrecompiled(entries)
	}

	return c, nil
}

func (c *CodeCache) Device() ml.Device {
	return c.dev
}

func (c *CodeCache) isFPGA() bool {
	return c.info.Type == ml.DeviceTypeAccelerator
}

func (c *CodeCache) vendor() string {
	return c.info.VendorPrefix()
}

// Lookup returns the valid kernel installed under (task, entry). Invalid
// entries are reported as misses.
func (c *CodeCache) Lookup(task, entry string) (*InstalledKernel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k, ok := c.entries[Key{TaskID: task, EntryPoint: entry}]
	if !ok || !k.Valid() {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return k, true
}

// IsCached reports whether a valid kernel is installed under (task, entry).
func (c *CodeCache) IsCached(task, entry string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	k, ok := c.entries[Key{TaskID: task, EntryPoint: entry}]
	return ok && k.Valid()
}

// Entries returns a snapshot of all entries, failed ones included, sorted
// by key.
func (c *CodeCache) Entries() []*InstalledKernel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]*InstalledKernel, 0, len(c.entries))
	for _, k := range c.entries {
		entries = append(entries, k)
	}
	slices.SortFunc(entries, func(a, b *InstalledKernel) int {
		return strings.Compare(a.Key().String(), b.Key().String())
	})
	return entries
}

// Pending returns the entry points waiting for their program, in
// registration order per task schedule.
func (c *CodeCache) Pending() []PendingEntryPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	schedules := make([]string, 0, len(c.pending))
	for s := range c.pending {
		schedules = append(schedules, s)
	}
	slices.Sort(schedules)

	var pending []PendingEntryPoint
	for _, s := range schedules {
		pending = append(pending, c.pending[s].Values()...)
	}
	return pending
}

func (c *CodeCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Reset invalidates every entry and releases programs and kernels. Pending
// entry points and link objects are dropped too.
func (c *CodeCache) Reset() {
	c.mu.Lock()
	entries := c.entries
	for key, k := range c.failed {
		if _, ok := entries[key]; !ok {
			entries[key] = k
		}
	}
	c.entries = make(map[Key]*InstalledKernel)
	c.failed = make(map[Key]*InstalledKernel)
	c.pending = make(map[string]*arraylist.List[PendingEntryPoint])
	c.mu.Unlock()

	c.pipeMu.Lock()
	c.linkObjects = orderedmap.New[string, string]()
	c.pipeMu.Unlock()

	released := make(map[ml.Program]bool)
	releasedKernels := make(map[ml.Kernel]bool)
	for _, k := range entries {
		k.invalidate()
		if k.Kernel != nil && !releasedKernels[k.Kernel] {
			releasedKernels[k.Kernel] = true
			if err := k.Kernel.Release(); err != nil {
				slog.Warn("release kernel", "key", k.Key(), "error", err)
			}
		}
		if k.Program != nil && !released[k.Program] {
			released[k.Program] = true
			if err := k.Program.Release(); err != nil {
				slog.Warn("release program", "key", k.Key(), "error", err)
			}
		}
	}
	slog.Debug("code cache reset", "device", c.info.DeviceID, "entries", len(entries))
}

// RegisterPending queues entry under the task schedule of task. Once a
// program for that schedule is installed, the entry is resolved from it.
func (c *CodeCache) RegisterPending(task, entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerPending(PendingEntryPoint{TaskID: task, EntryPoint: entry})
}

// registerPending adds p unless the same key is queued already. c.mu must
// be held.
func (c *CodeCache) registerPending(p PendingEntryPoint) {
	schedule := scheduleOf(p.TaskID)
	l, ok := c.pending[schedule]
	if !ok {
		l = arraylist.New[PendingEntryPoint]()
		c.pending[schedule] = l
	}

	for i, q := range l.Values() {
		if q.TaskID == p.TaskID && q.EntryPoint == p.EntryPoint {
			l.Set(i, p)
			return
		}
	}
	l.Add(p)
}

// dropPending removes key from the pending table. c.mu must be held.
func (c *CodeCache) dropPending(key Key) {
	schedule := scheduleOf(key.TaskID)
	l, ok := c.pending[schedule]
	if !ok {
		return
	}
	for i, q := range l.Values() {
		if q.TaskID == key.TaskID && q.EntryPoint == key.EntryPoint {
			l.Remove(i)
			break
		}
	}
	if l.Empty() {
		delete(c.pending, schedule)
	}
}

// scheduleOf returns the task schedule of a task id: "s0" for "s0.t1".
func scheduleOf(task string) string {
	schedule, _, _ := strings.Cut(task, ".")
	return schedule
}

// put stores k under its key. A failed entry never replaces a valid one.
// c.mu must be held.
func (c *CodeCache) put(k *InstalledKernel) {
	key := k.Key()
	if old, ok := c.entries[key]; ok && old.Valid() && !k.Valid() {
		slog.Warn("keeping valid entry over failed install", "key", key)
		return
	}
	c.entries[key] = k
}

func (k *InstalledKernel) String() string {
	return fmt.Sprintf("%s [%s]", k.Key(), k.Status)
}
