// cmd_build.go - Kernel installieren, ausfuehren und Manifeste pruefen
// Hauptfunktionen: BuildHandler, RunHandler, ManifestHandler
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/x448/float16"

	"github.com/ollama/offload/codecache"
	"github.com/ollama/offload/engine"
	"github.com/ollama/offload/envconfig"
	"github.com/ollama/offload/kernels"
	"github.com/ollama/offload/ml"
	"github.com/ollama/offload/residency"
)

// deviceEngine - Oeffnet die Laufzeit und waehlt das Geraet aus --device
func deviceEngine(cmd *cobra.Command) (*engine.Context, *engine.Engine, error) {
	sel, err := cmd.Flags().GetString("device")
	if err != nil {
		return nil, nil, err
	}

	rt, _, err := openRuntime()
	if err != nil {
		return nil, nil, err
	}

	e, err := selectEngine(rt, sel)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, e, nil
}

// selectEngine - Waehlt ein Geraet ueber "INDEX" oder "PLATFORM:INDEX"
func selectEngine(rt *engine.Context, sel string) (*engine.Engine, error) {
	p, d, ok := strings.Cut(sel, ":")
	if !ok {
		i, err := strconv.Atoi(sel)
		if err != nil {
			return nil, fmt.Errorf("invalid device %q", sel)
		}
		return rt.Engine(i)
	}

	platform, perr := strconv.Atoi(p)
	index, derr := strconv.Atoi(d)
	if perr != nil || derr != nil {
		return nil, fmt.Errorf("invalid device %q", sel)
	}

	for _, e := range rt.Engines() {
		if id := e.Info().DeviceID; id.PlatformIndex == platform && id.Index == index {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ml.ErrNoDevice, sel)
}

// defaultDevice - Geraeteauswahl aus OFFLOAD_PLATFORM und OFFLOAD_DEVICE
func defaultDevice() string {
	return fmt.Sprintf("%d:%d", envconfig.Platform(), envconfig.Device())
}

// BuildHandler - Installiert eine Quelldatei oder ein Binary im Code-Cache
func BuildHandler(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	task, _ := cmd.Flags().GetString("task")
	entry, _ := cmd.Flags().GetString("entry")
	binary, _ := cmd.Flags().GetBool("binary")
	options, _ := cmd.Flags().GetString("options")
	force, _ := cmd.Flags().GetBool("force")

	if entry == "" {
		entry = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	rt, e, err := deviceEngine(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	start := time.Now()
	k, err := e.Cache().Install(cmd.Context(), codecache.Artifact{
		TaskID:     task,
		EntryPoint: entry,
		Data:       data,
		Binary:     binary,
	}, codecache.InstallOptions{BuildOptions: options, Force: force})

	var berr *codecache.BuildError
	if errors.As(err, &berr) {
		if berr.Log != "" {
			fmt.Fprintln(os.Stderr, berr.Log)
		}
		return err
	} else if err != nil {
		return err
	}

	fmt.Printf("installed %s on %s\n", k.Key(), e.Info().Name)
	fmt.Printf("  status:   %s\n", k.Status)
	fmt.Printf("  digest:   %s\n", k.Digest.Short())
	fmt.Printf("  duration: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// demo - Ein Kernel der Bibliothek mit passenden Argumenten
type demo struct {
	args   func(n int) []any
	access []ml.Access
	result int
}

var demos = map[string]demo{
	"vectorAdd": {
		args: func(n int) []any {
			return []any{ramp(n, 1), ramp(n, 10), residency.Float32s(make([]float32, n))}
		},
		access: []ml.Access{ml.AccessRead, ml.AccessRead, ml.AccessWrite},
		result: 2,
	},
	"saxpy": {
		args: func(n int) []any {
			return []any{float32(2), ramp(n, 1), ramp(n, 10)}
		},
		access: []ml.Access{ml.AccessRead, ml.AccessRead, ml.AccessReadWrite},
		result: 2,
	},
	"hscale": {
		args: func(n int) []any {
			return []any{float16.Fromfloat32(0.5), ramp(n, 1)}
		},
		access: []ml.Access{ml.AccessRead, ml.AccessReadWrite},
		result: 1,
	},
}

func ramp(n int, scale float32) *residency.Buffer {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i+1) * scale
	}
	return residency.Float32s(v)
}

// RunHandler - Fuehrt einen Kernel der eingebauten Bibliothek aus
func RunHandler(cmd *cobra.Command, args []string) error {
	d, ok := demos[args[0]]
	if !ok {
		return fmt.Errorf("unknown kernel %q", args[0])
	}

	n, err := cmd.Flags().GetInt("size")
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("invalid size %d", n)
	}

	rt, e, err := deviceEngine(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	a := codecache.Artifact{TaskID: "s0.t0", EntryPoint: args[0], Data: []byte(kernels.Library)}
	kargs := d.args(n)

	start := time.Now()
	if _, err := e.Run(cmd.Context(), a, kargs, d.access); err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := kargs[d.result].(*residency.Buffer).Float32s()
	fmt.Printf("%s on %s: %d elements in %s\n", args[0], e.Info().Name, n, elapsed.Round(time.Microsecond))
	fmt.Printf("  result[0:%d]: %v\n", min(n, 4), out[:min(n, 4)])
	return nil
}

// ManifestHandler - Zeigt die Eintraege eines Binary-Manifests
func ManifestHandler(_ *cobra.Command, args []string) error {
	manifest := envconfig.PrecompiledBinaries()
	if len(args) > 0 {
		manifest = args[0]
	}
	if manifest == "" {
		return errors.New("no manifest given and OFFLOAD_PRECOMPILED_BINARY is not set")
	}

	entries, err := codecache.ParseManifest(manifest)
	if err != nil {
		return err
	}

	var data [][]string
	for _, m := range entries {
		device := m.Device
		if device == "" {
			device = "*"
		}
		data = append(data, []string{m.Task, device, m.Path})
	}

	renderTable([]string{"TASK", "DEVICE", "PATH"}, data)
	return nil
}

// newBuildCmd - Erstellt den build Command
func newBuildCmd() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build FILE",
		Short: "Install a kernel source or binary into the code cache",
		Args:  cobra.ExactArgs(1),
		RunE:  BuildHandler,
	}

	buildCmd.Flags().String("task", "s0.t0", "Task id the kernel is installed under")
	buildCmd.Flags().String("entry", "", "Kernel entry point (default: file name without extension)")
	buildCmd.Flags().Bool("binary", false, "Treat FILE as a device binary")
	buildCmd.Flags().String("options", "", "Options passed to the device compiler")
	buildCmd.Flags().Bool("force", false, "Rebuild even if the artifact is cached")
	buildCmd.Flags().String("device", defaultDevice(), "Device as INDEX or PLATFORM:INDEX")

	return buildCmd
}

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run KERNEL",
		Short: "Run a kernel of the builtin library (vectorAdd, saxpy, hscale)",
		Args:  cobra.ExactArgs(1),
		RunE:  RunHandler,
	}

	runCmd.Flags().Int("size", 1024, "Number of elements")
	runCmd.Flags().String("device", defaultDevice(), "Device as INDEX or PLATFORM:INDEX")

	return runCmd
}

// newManifestCmd - Erstellt den manifest Command
func newManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest [MANIFEST]",
		Short: "Show a precompiled binary manifest (list or file)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ManifestHandler,
	}
}
