// Package engine launches installed kernels: it moves argument buffers to
// the device, builds the argument frame and streams results back.
//
// Modul: engine.go - Ausfuehrung auf einem Geraet
// Enthaelt: Engine, LaunchOptions, Execute, Sync, Run
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ollama/offload/callstack"
	"github.com/ollama/offload/codecache"
	"github.com/ollama/offload/logutil"
	"github.com/ollama/offload/ml"
	"github.com/ollama/offload/residency"
)

// LaunchOptions carry launch-time metadata written to the frame header.
type LaunchOptions struct {
	Header map[string]int64
}

// Engine executes kernels on one device. Arguments are either
// *residency.Buffer values or scalars accepted by callstack.Frame.Push;
// access modes of scalar arguments are ignored.
type Engine struct {
	dev     ml.Device
	info    ml.DeviceInfo
	cache   *codecache.CodeCache
	tracker *residency.Tracker
	limit   int

	// mu orders Run calls on the device from lookup through copy-out
	mu sync.Mutex
}

// New returns an engine for the device of cache. limit bounds the encoded
// argument frame; <= 0 uses callstack.DefaultLimit.
func New(cache *codecache.CodeCache, tracker *residency.Tracker, limit int) *Engine {
	return &Engine{
		dev:     cache.Device(),
		info:    cache.Device().Info(),
		cache:   cache,
		tracker: tracker,
		limit:   limit,
	}
}

func (e *Engine) Device() ml.Device {
	return e.dev
}

func (e *Engine) Info() ml.DeviceInfo {
	return e.info
}

func (e *Engine) Cache() *codecache.CodeCache {
	return e.cache
}

func (e *Engine) Tracker() *residency.Tracker {
	return e.tracker
}

// Execute launches k with args. On synchronous devices the returned event
// is terminal and written buffers are already copied back. On asynchronous
// devices the event may still be running; call Sync before reading
// results.
func (e *Engine) Execute(ctx context.Context, k *codecache.InstalledKernel, args []any, access []ml.Access) (ml.Event, error) {
	return e.ExecuteWithOptions(ctx, k, args, access, LaunchOptions{})
}

func (e *Engine) ExecuteWithOptions(ctx context.Context, k *codecache.InstalledKernel, args []any, access []ml.Access, opts LaunchOptions) (ml.Event, error) {
	if err := checkArity(k.Key(), args, access); err != nil {
		return nil, err
	}

	ev, err := e.launch(ctx, k, args, access, opts)
	if err != nil {
		return ev, err
	}
	if !ev.Status().Terminal() {
		return ev, nil
	}
	return ev, e.finish(ctx, k, ev, args, access)
}

// Sync waits for ev and copies written buffers back to the host. It must
// be called once for events Execute returned before they were terminal.
func (e *Engine) Sync(ctx context.Context, k *codecache.InstalledKernel, ev ml.Event, args []any, access []ml.Access) error {
	if err := checkArity(k.Key(), args, access); err != nil {
		return err
	}
	return e.finish(ctx, k, ev, args, access)
}

// Run is the full task execution: look up the kernel, install a on a miss
// (or the precompiled binary of task, if one is registered), launch, wait
// and stream written buffers out. Runs on one engine are serialized.
func (e *Engine) Run(ctx context.Context, a codecache.Artifact, args []any, access []ml.Access) (ml.Event, error) {
	key := codecache.Key{TaskID: a.TaskID, EntryPoint: a.EntryPoint}
	if err := checkArity(key, args, access); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k, err := e.kernel(ctx, a)
	if err != nil {
		return nil, err
	}

	ev, err := e.launch(ctx, k, args, access, LaunchOptions{})
	if err != nil {
		return ev, err
	}
	return ev, e.finish(ctx, k, ev, args, access)
}

// kernel returns the installed kernel for a, installing it on a miss.
func (e *Engine) kernel(ctx context.Context, a codecache.Artifact) (*codecache.InstalledKernel, error) {
	if k, ok := e.cache.Lookup(a.TaskID, a.EntryPoint); ok {
		return k, nil
	}

	var k *codecache.InstalledKernel
	var err error
	if _, ok := e.cache.PrecompiledBinary(a.TaskID); ok {
		k, err = e.cache.InstallPrecompiled(ctx, a.TaskID, a.EntryPoint)
	} else {
		k, err = e.cache.Install(ctx, a, codecache.InstallOptions{})
	}
	if err != nil {
		return nil, err
	}
	if k.Pending() {
		return nil, fmt.Errorf("%w: %s", codecache.ErrPending, k.Key())
	}
	return k, nil
}

func checkArity(key codecache.Key, args []any, access []ml.Access) error {
	if len(args) != len(access) {
		return &codecache.ConfigurationError{
			Source: key.String(),
			Msg:    fmt.Sprintf("argument/access-mode arity mismatch: %d arguments, %d access modes", len(args), len(access)),
		}
	}
	return nil
}

// launch prepares the arguments, encodes the frame and submits k.
func (e *Engine) launch(ctx context.Context, k *codecache.InstalledKernel, args []any, access []ml.Access, opts LaunchOptions) (ml.Event, error) {
	if k.Pending() {
		return nil, fmt.Errorf("%w: %s", codecache.ErrPending, k.Key())
	}
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %s is not installed", ml.ErrInvalidKernel, k.Key())
	}

	frame := callstack.New(len(args), e.limit)
	frame.SetHeader(opts.Header)

	for i, arg := range args {
		switch v := arg.(type) {
		case *residency.Buffer:
			r, err := e.tracker.Prepare(ctx, v, access[i])
			if err != nil {
				return nil, &ArgumentError{Index: i, Err: err}
			}
			frame.PushBuffer(r.Handle.Address(), r.Size)
			logutil.TraceContext(ctx, "buffer argument", "index", i, "access", access[i], "address", fmt.Sprintf("0x%x", r.Handle.Address()), "size", r.Size)
		default:
			if err := frame.Push(v); err != nil {
				return nil, &ArgumentError{Index: i, Err: err}
			}
			logutil.TraceContext(ctx, "scalar argument", "index", i, "value", v)
		}
	}

	data, err := frame.Encode()
	if err != nil {
		return nil, &ArgumentError{Index: frame.Len() - 1, Err: err}
	}
	logutil.TraceContext(ctx, "frame encoded", "key", k.Key(), "bytes", len(data), "header", len(frame.Header()))

	ev, err := e.dev.Launch(ctx, k.Kernel, data)
	if err != nil {
		return nil, e.launchError(k, nil, err)
	}
	slog.Debug("kernel launched", "device", e.info.DeviceID, "key", k.Key(), "event", ev.ID(), "status", ev.Status())

	if ev.Status() == ml.EventFailed {
		return ev, e.launchError(k, ev, ev.Err())
	}
	return ev, nil
}

// finish waits for ev and streams out every written buffer. Buffers of a
// failed launch are not copied back.
func (e *Engine) finish(ctx context.Context, k *codecache.InstalledKernel, ev ml.Event, args []any, access []ml.Access) error {
	start := time.Now()
	if err := ev.Wait(ctx); err != nil {
		if ev.Status() == ml.EventFailed {
			return e.launchError(k, ev, err)
		}
		return err
	}

	for i, arg := range args {
		b, ok := arg.(*residency.Buffer)
		if !ok || !access[i].Writes() {
			continue
		}
		if err := e.tracker.StreamOut(ctx, b); err != nil {
			return &ArgumentError{Index: i, Err: err}
		}
	}
	slog.Debug("kernel finished", "device", e.info.DeviceID, "key", k.Key(), "event", ev.ID(), "wait", time.Since(start))
	return nil
}

func (e *Engine) launchError(k *codecache.InstalledKernel, ev ml.Event, err error) error {
	slog.Error("kernel launch failed", "device", e.info.DeviceID, "key", k.Key(), "error", err)
	return &LaunchError{
		TaskID:     k.TaskID,
		EntryPoint: k.EntryPoint,
		Device:     e.info.DeviceID,
		Event:      ev,
		Err:        err,
	}
}
