// cmd_devices.go - Geraete-Auflistung
// Hauptfunktionen: DevicesHandler, localDevices
package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ollama/offload/api"
	"github.com/ollama/offload/ml"
)

// localDevices - Fragt alle registrierten Treiber ab und schliesst die
// Geraete wieder
func localDevices() ([]ml.DeviceInfo, error) {
	var infos []ml.DeviceInfo
	for _, name := range ml.Drivers() {
		d, err := ml.OpenDriver(name)
		if err != nil {
			return nil, err
		}

		devs, err := d.Devices()
		if err != nil {
			return nil, fmt.Errorf("%s devices: %w", name, err)
		}

		for _, dev := range devs {
			infos = append(infos, dev.Info())
			if err := dev.Close(); err != nil {
				slog.Warn("closing device", "id", dev.Info().DeviceID, "error", err)
			}
		}
	}
	return infos, nil
}

// DevicesHandler - Listet Geraete lokal oder ueber den laufenden Server
func DevicesHandler(cmd *cobra.Command, _ []string) error {
	remote, err := cmd.Flags().GetBool("remote")
	if err != nil {
		return err
	}

	var data [][]string
	if remote {
		if err := checkServerHeartbeat(cmd, nil); err != nil {
			return err
		}

		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}

		devices, err := client.Devices(cmd.Context())
		if err != nil {
			return err
		}

		for _, d := range devices.Devices {
			data = append(data, []string{
				strconv.Itoa(d.Index),
				d.ID.String(),
				d.Name,
				d.Type,
				strconv.Itoa(d.Stats.Builds),
				fmt.Sprintf("%d/%d", d.Stats.Hits, d.Stats.Hits+d.Stats.Misses),
				strconv.Itoa(d.Stats.Failures),
			})
		}

		renderTable([]string{"INDEX", "ID", "NAME", "TYPE", "BUILDS", "HITS", "FAILURES"}, data)
		return nil
	}

	infos, err := localDevices()
	if err != nil {
		return err
	}

	for i, info := range infos {
		memory := "-"
		if info.TotalMemory > 0 {
			memory = humanBytes(int64(info.TotalMemory))
		}
		data = append(data, []string{
			strconv.Itoa(i),
			info.DeviceID.String(),
			info.Name,
			info.Type.String(),
			memory,
			info.Capabilities.String(),
			strings.Join(info.Features, ","),
		})
	}

	renderTable([]string{"INDEX", "ID", "NAME", "TYPE", "MEMORY", "CAPABILITIES", "FEATURES"}, data)
	return nil
}

// newDevicesCmd - Erstellt den devices Command
func newDevicesCmd() *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List compute devices",
		Args:    cobra.ExactArgs(0),
		RunE:    DevicesHandler,
	}

	devicesCmd.Flags().Bool("remote", false, "Query the running server, including cache counters")

	return devicesCmd
}
