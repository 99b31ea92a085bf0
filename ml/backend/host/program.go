// program.go - Programme des Host-Treibers
// Dieses Modul enthaelt den Scanner fuer Kernel-Deklarationen, den Build
// mit Build-Log und das Binaerformat (Magic + Quelltext).

package host

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/dlclark/regexp2"

	"github.com/ollama/offload/ml"
)

// binaryMagic prefixes every program binary produced by this driver.
const binaryMagic = "OFFLOAD-HOST\x00"

// kernelDecl matches "__kernel void name(" and "kernel void name(" but not
// identifiers that merely end in "kernel".
var kernelDecl = regexp2.MustCompile(`(?<![\w])(?:__)?kernel\s+void\s+([A-Za-z_]\w*)\s*\(`, regexp2.None)

// scanKernels returns the declared entry points in source order.
func scanKernels(source string) ([]string, error) {
	var names []string
	m, err := kernelDecl.FindStringMatch(source)
	for m != nil && err == nil {
		names = append(names, m.GroupByNumber(1).String())
		m, err = kernelDecl.FindNextMatch(m)
	}
	return names, err
}

// suggest returns the candidate closest to name, or "" if none is close.
func suggest(name string, candidates []string) string {
	best, score := "", len(name)/2+1
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(name, c); d < score {
			best, score = c, d
		}
	}
	return best
}

type program struct {
	dev    *Device
	source string

	status  ml.BuildStatus
	log     string
	kernels []string
}

func (p *program) Build(options string) error {
	p.status = ml.BuildInProgress

	var log strings.Builder
	fail := func(format string, args ...any) error {
		fmt.Fprintf(&log, format+"\n", args...)
		p.status = ml.BuildError
		p.log = strings.TrimSpace(log.String())
		slog.Debug("host program build failed", "device", p.dev.info.DeviceID, "log", p.log)
		return nil
	}

	if strings.Contains(options, "-Werror") && strings.Contains(p.source, "#warning") {
		return fail("error: warnings treated as errors")
	}

	for i, line := range strings.Split(p.source, "\n") {
		line = strings.TrimSpace(line)
		if msg, ok := strings.CutPrefix(line, "#error"); ok {
			return fail("<source>:%d: error: %s", i+1, strings.TrimSpace(msg))
		}
		if msg, ok := strings.CutPrefix(line, "#warning"); ok {
			fmt.Fprintf(&log, "<source>:%d: warning: %s\n", i+1, strings.TrimSpace(msg))
		}
	}

	names, err := scanKernels(p.source)
	if err != nil {
		return fmt.Errorf("scan kernels: %w", err)
	}
	if len(names) == 0 {
		return fail("error: no kernel declared")
	}

	registered := Kernels()
	for _, name := range names {
		if _, ok := lookupKernel(name); !ok {
			if s := suggest(name, registered); s != "" {
				return fail("error: no host implementation for kernel %q (did you mean %q?)", name, s)
			}
			return fail("error: no host implementation for kernel %q", name)
		}
	}

	p.kernels = names
	p.status = ml.BuildSuccess
	p.log = strings.TrimSpace(log.String())
	slog.Debug("host program built", "device", p.dev.info.DeviceID, "kernels", names, "options", options)
	return nil
}

func (p *program) Status() ml.BuildStatus { return p.status }
func (p *program) BuildLog() string       { return p.log }

func (p *program) Kernels() []string {
	return append([]string(nil), p.kernels...)
}

func (p *program) Kernel(name string) (ml.Kernel, error) {
	if p.status != ml.BuildSuccess {
		return nil, ml.ErrProgramNotBuilt
	}
	for _, k := range p.kernels {
		if k == name {
			f, _ := lookupKernel(name)
			return &kernel{name: name, fn: f}, nil
		}
	}
	if s := suggest(name, p.kernels); s != "" {
		return nil, fmt.Errorf("%w: %q (did you mean %q?)", ml.ErrInvalidKernel, name, s)
	}
	return nil, fmt.Errorf("%w: %q", ml.ErrInvalidKernel, name)
}

func (p *program) Binary() ([]byte, error) {
	if p.status != ml.BuildSuccess {
		return nil, ml.ErrProgramNotBuilt
	}
	return append([]byte(binaryMagic), p.source...), nil
}

func (p *program) Release() error { return nil }

func parseBinary(binary []byte) (string, error) {
	rest, ok := bytes.CutPrefix(binary, []byte(binaryMagic))
	if !ok {
		return "", ml.ErrInvalidBinary
	}
	return string(rest), nil
}

type kernel struct {
	name     string
	fn       KernelFunc
	released bool
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) Release() error {
	k.released = true
	return nil
}
