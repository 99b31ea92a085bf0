// driver.go - Registrierung des Host-Treibers
// Dieses Modul enthaelt den Driver, die Geraete-Beschreibung und die
// Erkennung der CPU-Features.

package host

import (
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/ollama/offload/envconfig"
	"github.com/ollama/offload/ml"
)

func init() {
	ml.RegisterDriver("host", func() (ml.Driver, error) {
		return &Driver{Workers: envconfig.NumThreads()}, nil
	})
}

// Driver exposes the host CPU as a single device.
type Driver struct {
	// Workers is the number of goroutines a kernel may use.
	Workers int
}

func (*Driver) Name() string { return "host" }

func (d *Driver) Devices() ([]ml.Device, error) {
	workers := d.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	info := ml.DeviceInfo{
		DeviceID:       ml.DeviceID{Library: "host"},
		Name:           "Host CPU (" + runtime.GOARCH + ")",
		Vendor:         "Go",
		PlatformVendor: "offload",
		Type:           ml.DeviceTypeCPU,
		ComputeUnits:   workers,
		Capabilities:   ml.CapAsyncLaunch | ml.CapBinaryDump,
		Features:       Features(),
	}
	return []ml.Device{newDevice(info, workers)}, nil
}

// Features lists the instruction set extensions of the host CPU.
func Features() []string {
	var fs []string
	add := func(ok bool, name string) {
		if ok {
			fs = append(fs, name)
		}
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE2, "sse2")
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasFPHP, "fphp")
		add(cpu.ARM64.HasASIMDHP, "asimdhp")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return fs
}
