// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: checkServerHeartbeat, renderTable, truncate, humanBytes, humanTime
package cmd

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/offload/api"
	"github.com/ollama/offload/envconfig"
)

// checkServerHeartbeat - Prueft ob der Server erreichbar ist
func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}
	if err := client.Heartbeat(cmd.Context()); err != nil {
		if strings.Contains(err.Error(), " refused") || strings.Contains(err.Error(), "could not connect") {
			return fmt.Errorf("offload server not responding at %s, start it with 'offload serve'", envconfig.Host())
		}
		return err
	}
	return nil
}

// interactive - true wenn stdout ein Terminal ist
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// renderTable - Gibt Zeilen im CLI-Tabellenformat aus
func renderTable(header []string, data [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()
}

// truncate - Kuerzt Text fuer Terminals auf width Spalten
func truncate(s string, width int) string {
	if !interactive() {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

// shortDigest - Kuerzt Digests nur fuer Terminals, Pipes bekommen den vollen Wert
func shortDigest(s string) string {
	if !interactive() {
		return s
	}
	s = strings.TrimPrefix(s, "sha256:")
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// humanBytes - Formatiert eine Byte-Anzahl
func humanBytes(b int64) string {
	if !interactive() {
		return fmt.Sprint(b)
	}

	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}

	value := float64(b)
	for _, suffix := range []string{"KB", "MB", "GB", "TB"} {
		value /= unit
		if value < unit || suffix == "TB" {
			if value < 10 {
				return fmt.Sprintf("%.1f %s", value, suffix)
			}
			return fmt.Sprintf("%d %s", int(math.Round(value)), suffix)
		}
	}
	return fmt.Sprint(b)
}

// humanTime - Relative Zeitangabe fuer Terminals, RFC3339 sonst
func humanTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if !interactive() {
		return t.Format(time.RFC3339)
	}

	d := time.Since(t)
	switch {
	case d < time.Second:
		return "Just now"
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}
