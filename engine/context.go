// context.go - Prozessweiter Laufzeit-Kontext
// Enthaelt: Context (Geraete, Code-Caches, Tracker, Engines), Open,
// NewContext, Reset, Close

package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ollama/offload/codecache"
	"github.com/ollama/offload/envconfig"
	"github.com/ollama/offload/ml"
	"github.com/ollama/offload/residency"
)

// Context owns the devices of a process together with one code cache,
// residency tracker and engine per device.
type Context struct {
	engines []*Engine
	cfg     codecache.Config
}

// Open opens every device of the named drivers. All drivers are opened
// when names is empty.
func Open(cfg codecache.Config, names ...string) (*Context, error) {
	if len(names) == 0 {
		names = ml.Drivers()
	}

	var devs []ml.Device
	for _, name := range names {
		d, err := ml.OpenDriver(name)
		if err != nil {
			closeAll(devs)
			return nil, err
		}
		ds, err := d.Devices()
		if err != nil {
			closeAll(devs)
			return nil, fmt.Errorf("%s devices: %w", name, err)
		}
		devs = append(devs, ds...)
	}

	c, err := NewContext(devs, cfg)
	if err != nil {
		closeAll(devs)
		return nil, err
	}
	return c, nil
}

// NewContext creates caches and engines for devs. The context takes
// ownership of the devices.
func NewContext(devs []ml.Device, cfg codecache.Config) (*Context, error) {
	c := &Context{cfg: cfg}
	limit := envconfig.CallStackLimit()

	for _, dev := range devs {
		cache, err := codecache.New(dev, cfg)
		if err != nil {
			return nil, fmt.Errorf("code cache for %s: %w", dev.Info().DeviceID, err)
		}
		c.engines = append(c.engines, New(cache, residency.NewTracker(dev), limit))
		slog.Info("device opened", "id", dev.Info().DeviceID, "name", dev.Info().Name, "type", dev.Info().Type, "capabilities", dev.Info().Capabilities)
	}
	return c, nil
}

func (c *Context) Engines() []*Engine {
	return c.engines
}

// Engine returns the engine of the i-th device.
func (c *Context) Engine(i int) (*Engine, error) {
	if i < 0 || i >= len(c.engines) {
		return nil, fmt.Errorf("%w: %d of %d", ml.ErrNoDevice, i, len(c.engines))
	}
	return c.engines[i], nil
}

// Reset drops every installed kernel and device buffer.
func (c *Context) Reset() error {
	var errs []error
	for _, e := range c.engines {
		e.mu.Lock()
		e.cache.Reset()
		errs = append(errs, e.tracker.Reset())
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Close resets the context, closes all devices and the artifact index.
func (c *Context) Close() error {
	errs := []error{c.Reset()}
	for _, e := range c.engines {
		errs = append(errs, e.dev.Close())
	}
	if c.cfg.Index != nil {
		errs = append(errs, c.cfg.Index.Close())
	}
	c.engines = nil
	return errors.Join(errs...)
}

func closeAll(devs []ml.Device) {
	for _, d := range devs {
		if err := d.Close(); err != nil {
			slog.Warn("close device", "id", d.Info().DeviceID, "error", err)
		}
	}
}
