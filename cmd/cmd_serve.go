// cmd_serve.go - Server und Laufzeit-Setup
// Hauptfunktionen: RunServer, openRuntime, versionHandler
package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ollama/offload/api"
	"github.com/ollama/offload/artifact/store"
	"github.com/ollama/offload/codecache"
	"github.com/ollama/offload/engine"
	"github.com/ollama/offload/envconfig"
	"github.com/ollama/offload/server"
	"github.com/ollama/offload/version"
)

// openRuntime - Oeffnet alle Geraete mit der Konfiguration aus der Umgebung
func openRuntime() (*engine.Context, *store.Store, error) {
	cfg := codecache.DefaultConfig()
	if cfg.CacheEnable || cfg.DumpBinaries {
		cfg.Index = &store.Store{DBPath: store.DefaultPath()}
	}

	rt, err := engine.Open(cfg)
	if err != nil {
		if cfg.Index != nil {
			cfg.Index.Close()
		}
		return nil, nil, err
	}
	return rt, cfg.Index, nil
}

// RunServer - Startet die Status-API
func RunServer(_ *cobra.Command, _ []string) error {
	rt, index, err := openRuntime()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		rt.Close()
		return err
	}

	err = server.Serve(ln, rt, index)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// versionHandler - Zeigt die Version an
func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Println("Warning: could not connect to a running offload server")
	}

	if serverVersion != "" {
		fmt.Printf("offload server version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Printf("Warning: client version is %s\n", version.Version)
	}
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Open all devices and serve the status API",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}
