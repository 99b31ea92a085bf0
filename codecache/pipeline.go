// pipeline.go - AOT-Pipeline fuer FPGA-Ziele
// Enthaelt: installFPGASource, Compile-/Link-/Cleanup-Kommandos,
// Build-Skip bei vorhandenem Bitstream

package codecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ollama/offload/artifact"
	"github.com/ollama/offload/toolchain"
)

const (
	xilinxCompiler = "xocc"
	intelCompiler  = "aoc"
)

// installFPGASource stages a's source into the shared staging file and
// drives the external toolchain. Non-helper entry points are queued as
// pending; the bitstream, once linked, serves all of them.
func (c *CodeCache) installFPGASource(ctx context.Context, a Artifact, digest artifact.Digest, opts InstallOptions) (*InstalledKernel, error) {
	c.pipeMu.Lock()
	defer c.pipeMu.Unlock()

	fc := c.cfg.FPGA
	helper := a.EntryPoint == LookupBufferAddress

	// staged is the staging file size before a's source is appended
	var staged int64
	if !helper {
		if fi, err := os.Stat(filepath.Join(fc.BitstreamDir, LookupBufferAddress+artifact.SourceSuffix)); err == nil {
			staged = fi.Size()
		}
	}

	input, err := artifact.StageSource(fc.BitstreamDir, LookupBufferAddress, a.Data, helper)
	if err != nil {
		return nil, &ArtifactError{TaskID: a.TaskID, EntryPoint: a.EntryPoint, Err: fmt.Errorf("stage source: %w", err)}
	}
	c.dumpSource(a)

	if !helper {
		c.mu.Lock()
		c.registerPending(PendingEntryPoint{TaskID: a.TaskID, EntryPoint: a.EntryPoint, Digest: digest})
		c.mu.Unlock()
	}

	bitstream := c.bitstreamPath()
	if !fileExists(bitstream) {
		switch c.vendor() {
		case "xilinx":
			if err := c.run(ctx, c.xilinxCompile(input, a.EntryPoint)); err != nil {
				c.unstage(a, input, staged)
				return nil, err
			}
			c.linkObjects.Set(a.EntryPoint, filepath.Join(fc.BitstreamDir, a.EntryPoint+".xo"))
		case "intel":
			// aoc compiles the whole staging file when linking
		default:
			c.unstage(a, input, staged)
			return nil, &ConfigurationError{Source: c.info.Name, Msg: fmt.Sprintf("FPGA vendor %q not supported", c.info.PlatformVendor)}
		}

		if opts.Defer && !helper {
			return pendingKernel(c.info.DeviceID, a, digest), nil
		}

		if err := c.link(ctx, input); err != nil {
			return nil, err
		}
	} else {
		slog.Info("bitstream found, skipping compilation", "path", bitstream, "task", a.TaskID, "entry", a.EntryPoint)
	}

	c.mu.Lock()
	c.precompiled[a.TaskID] = bitstream
	c.mu.Unlock()

	return c.installBitstream(ctx, a, bitstream, digest)
}

// installBitstream installs the bitstream as the helper program of a's
// task and returns the entry point a asked for.
func (c *CodeCache) installBitstream(ctx context.Context, a Artifact, path string, digest artifact.Digest) (*InstalledKernel, error) {
	bin, d, err := artifact.ReadBinary(path)
	if err != nil {
		return nil, &ArtifactError{TaskID: a.TaskID, EntryPoint: a.EntryPoint, Err: err}
	}

	helper, err := c.installBinary(ctx, a.TaskID, LookupBufferAddress, bin, d)
	if err != nil {
		return nil, err
	}
	if a.EntryPoint == LookupBufferAddress {
		c.mu.Lock()
		helper.SourceDigest = digest
		c.mu.Unlock()
		return helper, nil
	}

	c.mu.RLock()
	k, ok := c.entries[Key{TaskID: a.TaskID, EntryPoint: a.EntryPoint}]
	c.mu.RUnlock()
	if !ok || !k.Valid() {
		return nil, &BuildError{
			TaskID:     a.TaskID,
			EntryPoint: a.EntryPoint,
			Log:        fmt.Sprintf("bitstream %s does not export %s", path, a.EntryPoint),
		}
	}
	return k, nil
}

// link produces the bitstream from the accumulated objects (Xilinx) or the
// staging file (Intel), then runs the cleanup script.
func (c *CodeCache) link(ctx context.Context, input string) error {
	var cmd toolchain.Command
	switch c.vendor() {
	case "xilinx":
		cmd = c.xilinxLink()
	default:
		cmd = c.intelCompile(input, strings.TrimSuffix(input, artifact.SourceSuffix))
	}
	if err := c.run(ctx, cmd); err != nil {
		return err
	}

	c.mu.Lock()
	c.stats.Links++
	c.mu.Unlock()

	if script := c.cfg.CleanupScript; script != "" {
		cleanup := toolchain.Command{
			Name: "cleanup",
			Path: script,
			Args: []string{c.vendor(), c.cfg.FPGA.BitstreamDir},
		}
		if err := c.run(ctx, cleanup); err != nil {
			return err
		}
	} else {
		slog.Warn("no cleanup script configured, set OFFLOAD_SDK")
	}
	return nil
}

// unstage takes a back out of the pipeline after its compile failed: the
// pending entry is dropped and the staging file is cut back to size, so
// later compiles and links do not pick it up.
func (c *CodeCache) unstage(a Artifact, input string, size int64) {
	c.mu.Lock()
	c.dropPending(Key{TaskID: a.TaskID, EntryPoint: a.EntryPoint})
	c.mu.Unlock()

	if err := os.Truncate(input, size); err != nil {
		slog.Warn("failed to restore staging file", "path", input, "error", err)
	}
}

func (c *CodeCache) run(ctx context.Context, cmd toolchain.Command) error {
	res, err := c.cfg.Runner.Run(ctx, cmd)
	if err != nil {
		var tool *toolchain.ExternalToolError
		if errors.As(err, &tool) {
			return err
		}
		return &toolchain.ExternalToolError{Command: cmd, ExitCode: -1, Err: err}
	}
	if res.ExitCode != 0 {
		return &toolchain.ExternalToolError{Command: cmd, ExitCode: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return nil
}

// bitstreamPath is the linked program of all task kernels.
func (c *CodeCache) bitstreamPath() string {
	name := LookupBufferAddress
	if c.vendor() == "xilinx" {
		name += ".xclbin"
	}
	return filepath.Join(c.cfg.FPGA.BitstreamDir, name)
}

func (c *CodeCache) xilinxTarget() string {
	if c.cfg.Emulation {
		return "sw_emu"
	}
	return "hw"
}

func (c *CodeCache) xilinxCompile(input, kernel string) toolchain.Command {
	dir := c.cfg.FPGA.BitstreamDir
	return toolchain.Command{
		Name: "xocc-compile",
		Path: xilinxCompiler,
		Args: []string{
			"-t", c.xilinxTarget(),
			"--platform", c.cfg.FPGA.DeviceName,
			"-c", "-k", kernel,
			"-g", "-I" + dir,
			"--xp", "misc:solution_name=" + LookupBufferAddress,
			"--report_dir", filepath.Join(dir, "reports"),
			"--log_dir", filepath.Join(dir, "logs"),
			"-o", filepath.Join(dir, kernel+".xo"),
			input,
		},
	}
}

func (c *CodeCache) xilinxLink() toolchain.Command {
	dir := c.cfg.FPGA.BitstreamDir
	args := []string{
		"-t", c.xilinxTarget(),
		"--platform", c.cfg.FPGA.DeviceName,
		"-l", "-g",
		"--xp", "misc:solution_name=link",
		"--report_dir", filepath.Join(dir, "reports"),
		"--log_dir", filepath.Join(dir, "logs"),
	}
	args = append(args, strings.Fields(c.cfg.FPGA.Flags)...)
	args = append(args,
		"--remote_ip_cache", filepath.Join(dir, "ip_cache"),
		"-o", filepath.Join(dir, LookupBufferAddress+".xclbin"),
	)
	for pair := c.linkObjects.Oldest(); pair != nil; pair = pair.Next() {
		args = append(args, pair.Value)
	}
	return toolchain.Command{Name: "xocc-link", Path: xilinxCompiler, Args: args}
}

func (c *CodeCache) intelCompile(input, output string) toolchain.Command {
	args := []string{input}
	args = append(args, strings.Fields(c.cfg.FPGA.Flags)...)
	if c.cfg.Emulation {
		args = append(args, "-march=emulator")
	} else {
		args = append(args, "-board="+c.cfg.FPGA.DeviceName)
	}
	args = append(args, "-o", output)
	return toolchain.Command{Name: "aoc", Path: intelCompiler, Args: args}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
