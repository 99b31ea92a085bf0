// cmd_env.go - Umgebungsvariablen anzeigen
// Hauptfunktionen: EnvHandler
package cmd

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/ollama/offload/envconfig"
)

// EnvHandler - Zeigt die wirksame Konfiguration
func EnvHandler(_ *cobra.Command, _ []string) error {
	vars := envconfig.AsMap()

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	values := envconfig.Values()

	var data [][]string
	for _, name := range names {
		v := vars[name]
		data = append(data, []string{v.Name, values[name], v.Description})
	}

	renderTable([]string{"NAME", "VALUE", "DESCRIPTION"}, data)
	return nil
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the effective configuration",
		Args:  cobra.ExactArgs(0),
		RunE:  EnvHandler,
	}
}
