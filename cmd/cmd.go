// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, setupLogging
package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/offload/envconfig"
	"github.com/ollama/offload/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-28s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setupLogging - Setzt den Standard-Logger nach OFFLOAD_DEBUG
func setupLogging(_ *cobra.Command, _ []string) {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:              "offload",
		Short:            "Kernel code cache and device runtime",
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: setupLogging,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	serveCmd := newServeCmd()
	devicesCmd := newDevicesCmd()
	buildCmd := newBuildCmd()
	runCmd := newRunCmd()
	manifestCmd := newManifestCmd()
	cacheCmd := newCacheCmd()
	kernelsCmd := newKernelsCmd()
	pendingCmd := newPendingCmd()
	resetCmd := newResetCmd()
	envCmd := newEnvCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["OFFLOAD_HOST"]}

	cacheEnvs := []envconfig.EnvVar{
		envVars["OFFLOAD_DEBUG"],
		envVars["OFFLOAD_CODECACHE_ENABLE"],
		envVars["OFFLOAD_CODECACHE_DUMP"],
		envVars["OFFLOAD_CODECACHE_DIR"],
		envVars["OFFLOAD_SOURCE_DUMP"],
		envVars["OFFLOAD_SOURCE_PRINT"],
		envVars["OFFLOAD_SOURCE_DIR"],
		envVars["OFFLOAD_LOG_DIR"],
		envVars["OFFLOAD_FPGA_CONF"],
		envVars["OFFLOAD_FPGA_EMULATION"],
		envVars["OFFLOAD_PRECOMPILED_BINARY"],
		envVars["OFFLOAD_SDK"],
	}

	for _, cmd := range []*cobra.Command{
		serveCmd,
		devicesCmd,
		buildCmd,
		runCmd,
		cacheCmd,
		kernelsCmd,
		pendingCmd,
		resetCmd,
	} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, append([]envconfig.EnvVar{envVars["OFFLOAD_HOST"], envVars["OFFLOAD_ORIGINS"]}, cacheEnvs...))
		case buildCmd, runCmd:
			appendEnvDocs(cmd, append(cacheEnvs,
				envVars["OFFLOAD_CALLSTACK_LIMIT"],
				envVars["OFFLOAD_NUM_THREADS"],
				envVars["OFFLOAD_PLATFORM"],
				envVars["OFFLOAD_DEVICE"],
			))
		case devicesCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["OFFLOAD_HOST"], envVars["OFFLOAD_NUM_THREADS"]})
		case cacheCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["OFFLOAD_CODECACHE_DIR"]})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		devicesCmd,
		buildCmd,
		runCmd,
		manifestCmd,
		cacheCmd,
		kernelsCmd,
		pendingCmd,
		resetCmd,
		envCmd,
	)

	return rootCmd
}
