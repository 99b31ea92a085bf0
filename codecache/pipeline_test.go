package codecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/offload/ml"
	"github.com/ollama/offload/ml/backend/fake"
	"github.com/ollama/offload/toolchain"
)

// recorder records tool invocations and writes the bitstream when a link
// command runs.
type recorder struct {
	mu   sync.Mutex
	cmds []toolchain.Command

	bitstream string
	exports   string
	fail      string
}

func (r *recorder) Run(_ context.Context, cmd toolchain.Command) (toolchain.Result, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()

	if cmd.Name == r.fail {
		return toolchain.Result{ExitCode: 1}, &toolchain.ExternalToolError{Command: cmd, ExitCode: 1, Stderr: "license not found"}
	}
	if cmd.Name == "xocc-link" || cmd.Name == "aoc" {
		if err := os.WriteFile(r.bitstream, []byte(fake.BinaryPrefix+r.exports), 0o644); err != nil {
			return toolchain.Result{}, err
		}
	}
	return toolchain.Result{}, nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.cmds))
	for i, c := range r.cmds {
		names[i] = c.Name
	}
	return names
}

func (r *recorder) command(name string) toolchain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.cmds {
		if c.Name == name {
			return c
		}
	}
	return toolchain.Command{}
}

func fpgaCache(t *testing.T, vendor string, emulation bool) (*CodeCache, *recorder, string) {
	t.Helper()
	dir := t.TempDir()

	bitstream := filepath.Join(dir, LookupBufferAddress)
	if strings.HasPrefix(strings.ToLower(vendor), "xilinx") {
		bitstream += ".xclbin"
	}
	rec := &recorder{
		bitstream: bitstream,
		exports:   "kernel lookupBufferAddress\nkernel vectorAdd\nkernel saxpy\n",
	}

	cfg := testConfig(t)
	cfg.Runner = rec
	cfg.Emulation = emulation
	cfg.CleanupScript = "/opt/offload/scripts/cleanup.sh"
	cfg.FPGA = &FPGAConfig{DeviceName: "board0", BitstreamDir: dir, Flags: "-O3"}

	c, _ := newCache(t, ml.DeviceInfo{Type: ml.DeviceTypeAccelerator, PlatformVendor: vendor}, cfg)
	return c, rec, dir
}

func TestXilinxPipeline(t *testing.T) {
	ctx := context.Background()
	c, rec, dir := fpgaCache(t, "Xilinx", false)

	pending, err := c.Install(ctx, source("s0.t0", "vectorAdd", "kernel vectorAdd\n"), InstallOptions{Defer: true})
	require.NoError(t, err)
	require.True(t, pending.Pending())
	require.Equal(t, []string{"xocc-compile"}, rec.names())

	k, err := c.Install(ctx, source("s0.t1", "saxpy", "kernel saxpy\n"), InstallOptions{})
	require.NoError(t, err)
	require.True(t, k.Valid())
	require.Equal(t, "saxpy", k.Kernel.Name())

	require.Equal(t, []string{"xocc-compile", "xocc-compile", "xocc-link", "cleanup"}, rec.names())

	compile := rec.command("xocc-compile")
	require.Equal(t, "xocc", compile.Path)
	require.Subset(t, compile.Args, []string{"-t", "hw", "--platform", "board0", "-k", "vectorAdd"})
	require.Equal(t, filepath.Join(dir, LookupBufferAddress+".cl"), compile.Args[len(compile.Args)-1])

	link := rec.command("xocc-link")
	require.Contains(t, link.Args, "-O3")
	require.Equal(t, []string{filepath.Join(dir, "vectorAdd.xo"), filepath.Join(dir, "saxpy.xo")}, link.Args[len(link.Args)-2:])

	require.Equal(t, []string{"xilinx", dir}, rec.command("cleanup").Args)

	staged, err := os.ReadFile(filepath.Join(dir, LookupBufferAddress+".cl"))
	require.NoError(t, err)
	require.Equal(t, "kernel vectorAdd\nkernel saxpy\n", string(staged))

	// die zurueckgestellte Entry Point wird vom Bitstream bedient
	v, ok := c.Lookup("s0.t0", "vectorAdd")
	require.True(t, ok)
	require.Same(t, k.Program, v.Program)
	require.True(t, c.IsCached("internal", LookupBufferAddress))
	require.Empty(t, c.Pending())
	require.Equal(t, 1, c.Stats().Links)

	path, ok := c.PrecompiledBinary("s0.t1")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, LookupBufferAddress+".xclbin"), path)
}

func TestXilinxEmulation(t *testing.T) {
	c, rec, _ := fpgaCache(t, "Xilinx", true)

	_, err := c.Install(context.Background(), source("s0.t0", "vectorAdd", "kernel vectorAdd\n"), InstallOptions{})
	require.NoError(t, err)
	require.Subset(t, rec.command("xocc-compile").Args, []string{"-t", "sw_emu"})
	require.Subset(t, rec.command("xocc-link").Args, []string{"-t", "sw_emu"})
}

func TestBitstreamSkipsBuild(t *testing.T) {
	c, rec, dir := fpgaCache(t, "Xilinx", false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, LookupBufferAddress+".xclbin"), []byte(fake.BinaryPrefix+"kernel lookupBufferAddress kernel saxpy"), 0o644))

	k, err := c.Install(context.Background(), source("s0.t0", "saxpy", "kernel saxpy\n"), InstallOptions{})
	require.NoError(t, err)
	require.True(t, k.Valid())
	require.Empty(t, rec.names(), "existing bitstream must skip the toolchain")
}

func TestIntelPipeline(t *testing.T) {
	for _, emulation := range []bool{false, true} {
		c, rec, dir := fpgaCache(t, "Intel(R) Corporation", emulation)

		k, err := c.Install(context.Background(), source("s0.t0", "vectorAdd", "kernel vectorAdd\n"), InstallOptions{})
		require.NoError(t, err)
		require.True(t, k.Valid())
		require.Equal(t, []string{"aoc", "cleanup"}, rec.names())

		aoc := rec.command("aoc")
		want := []string{filepath.Join(dir, LookupBufferAddress+".cl"), "-O3", "-board=board0", "-o", filepath.Join(dir, LookupBufferAddress)}
		if emulation {
			want[2] = "-march=emulator"
		}
		require.Equal(t, want, aoc.Args)
		require.Equal(t, []string{"intel", dir}, rec.command("cleanup").Args)
	}
}

func TestPipelineToolFailure(t *testing.T) {
	c, rec, _ := fpgaCache(t, "Xilinx", false)
	rec.fail = "xocc-link"

	_, err := c.Install(context.Background(), source("s0.t0", "vectorAdd", "kernel vectorAdd\n"), InstallOptions{})
	var tool *toolchain.ExternalToolError
	require.ErrorAs(t, err, &tool)
	require.Equal(t, 1, tool.ExitCode)
	require.Contains(t, err.Error(), "license not found")
	require.False(t, c.IsCached("s0.t0", "vectorAdd"))
	require.Zero(t, c.Stats().Links)
}

func TestPipelineRunnerError(t *testing.T) {
	c, _, _ := fpgaCache(t, "Xilinx", false)
	c.cfg.Runner = toolchain.RunnerFunc(func(context.Context, toolchain.Command) (toolchain.Result, error) {
		return toolchain.Result{}, errors.New("exec: not found")
	})

	_, err := c.Install(context.Background(), source("s0.t0", "vectorAdd", "kernel vectorAdd\n"), InstallOptions{})
	var tool *toolchain.ExternalToolError
	require.ErrorAs(t, err, &tool)
	require.Equal(t, -1, tool.ExitCode)
	require.Equal(t, "xocc-compile", tool.Command.Name)
}

func TestPipelineExitCode(t *testing.T) {
	c, _, _ := fpgaCache(t, "Xilinx", false)
	var names []string
	c.cfg.Runner = toolchain.RunnerFunc(func(_ context.Context, cmd toolchain.Command) (toolchain.Result, error) {
		names = append(names, cmd.Name)
		return toolchain.Result{ExitCode: 2, Stderr: []byte("ERROR: [v++ 60-602] Source file does not exist")}, nil
	})

	_, err := c.Install(context.Background(), source("s0.t0", "vectorAdd", "kernel vectorAdd\n"), InstallOptions{})
	var tool *toolchain.ExternalToolError
	require.ErrorAs(t, err, &tool)
	require.Equal(t, 2, tool.ExitCode)
	require.Equal(t, "xocc-compile", tool.Command.Name)
	require.Contains(t, err.Error(), "Source file does not exist")
	require.Equal(t, []string{"xocc-compile"}, names, "pipeline must stop after the failing tool")
}

func TestCompileFailureUnstagesEntry(t *testing.T) {
	ctx := context.Background()
	c, rec, dir := fpgaCache(t, "Xilinx", false)

	rec.fail = "xocc-compile"
	_, err := c.Install(ctx, source("s0.t0", "vectorAdd", "kernel vectorAdd\n"), InstallOptions{})
	var tool *toolchain.ExternalToolError
	require.ErrorAs(t, err, &tool)
	require.Empty(t, c.Pending())

	staged, err := os.ReadFile(filepath.Join(dir, LookupBufferAddress+".cl"))
	require.NoError(t, err)
	require.Empty(t, staged)

	rec.fail = ""
	k, err := c.Install(ctx, source("s0.t1", "saxpy", "kernel saxpy\n"), InstallOptions{})
	require.NoError(t, err)
	require.True(t, k.Valid())

	staged, err = os.ReadFile(filepath.Join(dir, LookupBufferAddress+".cl"))
	require.NoError(t, err)
	require.Equal(t, "kernel saxpy\n", string(staged))

	link := rec.command("xocc-link")
	require.Equal(t, filepath.Join(dir, "saxpy.xo"), link.Args[len(link.Args)-1])
	require.NotContains(t, link.Args, filepath.Join(dir, "vectorAdd.xo"))

	_, ok := c.Lookup("s0.t0", "vectorAdd")
	require.False(t, ok)
}

func TestUnsupportedFPGAVendor(t *testing.T) {
	c, rec, _ := fpgaCache(t, "Acme", false)

	_, err := c.Install(context.Background(), source("s0.t0", "vectorAdd", "kernel vectorAdd\n"), InstallOptions{})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Empty(t, rec.names())
	require.Empty(t, c.Pending())
}

func TestParseFPGAConfig(t *testing.T) {
	fc, err := ParseFPGAConfig(strings.NewReader("# u50\nDEVICE_NAME=xilinx_u50\n\nDIRECTORY_BITSTREAM = bitstreams/\nFLAGS=-O3 --kernel_frequency 300\nOTHER=1\n"), "xilinx.conf")
	require.NoError(t, err)
	require.Equal(t, &FPGAConfig{DeviceName: "xilinx_u50", BitstreamDir: "bitstreams/", Flags: "-O3 --kernel_frequency 300"}, fc)

	// freie Zeilen ohne '=' werden uebersprungen
	fc, err = ParseFPGAConfig(strings.NewReader("Xilinx Alveo U50 settings\nDEVICE_NAME=u50\nDIRECTORY_BITSTREAM=bits/\n"), "u50.conf")
	require.NoError(t, err)
	require.Equal(t, &FPGAConfig{DeviceName: "u50", BitstreamDir: "bits/"}, fc)

	cases := []struct {
		name, input, msg string
	}{
		{"missing device", "DIRECTORY_BITSTREAM=x\n", "missing DEVICE_NAME"},
		{"missing directory", "DEVICE_NAME=x\n", "missing DIRECTORY_BITSTREAM"},
		{"free-form only", "DEVICE_NAME\nDIRECTORY_BITSTREAM\n", "missing DEVICE_NAME"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFPGAConfig(strings.NewReader(tt.input), "test.conf")
			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
			require.Equal(t, tt.msg, cerr.Msg)
		})
	}
}

func TestNewMissingFPGAConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.FPGAConfigFile = filepath.Join(t.TempDir(), "missing.conf")

	_, err := New(fake.New(ml.DeviceInfo{Type: ml.DeviceTypeAccelerator, PlatformVendor: "Xilinx"}), cfg)
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.ErrorIs(t, err, os.ErrNotExist)
}
