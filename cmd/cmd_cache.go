// cmd_cache.go - Artefakt-Index und Code-Cache Abfragen
// Hauptfunktionen: CacheListHandler, CacheFailuresHandler, CacheRemoveHandler,
// KernelsHandler, PendingHandler, ResetHandler
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ollama/offload/api"
	"github.com/ollama/offload/artifact"
	"github.com/ollama/offload/artifact/store"
)

// openIndex - Oeffnet den Artefakt-Index im Cache-Verzeichnis
func openIndex() *store.Store {
	return &store.Store{DBPath: store.DefaultPath()}
}

// CacheListHandler - Listet persistierte Binaries
func CacheListHandler(cmd *cobra.Command, args []string) error {
	var device string
	if len(args) > 0 {
		device = args[0]
	}

	var binaries []api.BinaryResponse
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}
		resp, err := client.Binaries(cmd.Context(), device)
		if err != nil {
			return err
		}
		binaries = resp.Binaries
	} else {
		index := openIndex()
		defer index.Close()

		bs, err := index.Binaries(device)
		if err != nil {
			return err
		}
		for _, b := range bs {
			binaries = append(binaries, api.BinaryResponse{
				Device:    b.Device,
				TaskID:    b.Task,
				Entry:     b.Entry,
				Path:      b.Path,
				Digest:    b.Digest,
				Size:      b.Size,
				CreatedAt: b.CreatedAt,
			})
		}
	}

	var data [][]string
	for _, b := range binaries {
		data = append(data, []string{b.Device, b.TaskID, b.Entry, shortDigest(b.Digest), humanBytes(b.Size), humanTime(b.CreatedAt)})
	}

	renderTable([]string{"DEVICE", "TASK", "ENTRY", "DIGEST", "SIZE", "CREATED"}, data)
	return nil
}

// CacheFailuresHandler - Listet die letzten fehlgeschlagenen Builds
func CacheFailuresHandler(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	var failures []api.FailureResponse
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}
		resp, err := client.Failures(cmd.Context(), limit)
		if err != nil {
			return err
		}
		failures = resp.Failures
	} else {
		index := openIndex()
		defer index.Close()

		recorded, err := index.Failures(limit)
		if err != nil {
			return err
		}
		for _, f := range recorded {
			failures = append(failures, api.FailureResponse{
				Device:    f.Device,
				TaskID:    f.Task,
				Entry:     f.Entry,
				LogPath:   f.LogPath,
				Message:   f.Message,
				CreatedAt: f.CreatedAt,
			})
		}
	}

	var data [][]string
	for _, f := range failures {
		data = append(data, []string{f.Device, f.TaskID, f.Entry, truncate(f.Message, 48), f.LogPath, humanTime(f.CreatedAt)})
	}

	renderTable([]string{"DEVICE", "TASK", "ENTRY", "MESSAGE", "LOG", "CREATED"}, data)
	return nil
}

// CacheRemoveHandler - Loescht die Binaries eines Geraets samt Index-Eintraegen
func CacheRemoveHandler(_ *cobra.Command, args []string) error {
	index := openIndex()
	defer index.Close()

	for _, device := range args {
		binaries, err := index.Binaries(device)
		if err != nil {
			return err
		}

		var errs []error
		for _, b := range binaries {
			// die Datei muss noch zum indizierten Digest passen
			if _, d, err := artifact.ReadBinary(b.Path); err == nil && d.String() != b.Digest {
				fmt.Fprintf(os.Stderr, "skipping %s: modified since it was indexed\n", b.Path)
				continue
			}
			if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}

		n, err := index.ForgetDevice(device)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d binaries of %s\n", n, device)
	}
	return nil
}

// KernelsHandler - Listet die Code-Cache Eintraege eines Geraets
func KernelsHandler(cmd *cobra.Command, args []string) error {
	device, err := deviceArg(args)
	if err != nil {
		return err
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	kernels, err := client.Kernels(cmd.Context(), device)
	if err != nil {
		return err
	}

	var data [][]string
	for _, k := range kernels.Kernels {
		kind := "source"
		if k.Binary {
			kind = "binary"
		}
		data = append(data, []string{k.TaskID, k.EntryPoint, k.Status, kind, shortDigest(k.Digest), humanTime(k.InstalledAt)})
	}

	renderTable([]string{"TASK", "ENTRY", "STATUS", "KIND", "DIGEST", "INSTALLED"}, data)
	return nil
}

// PendingHandler - Listet wartende Entry-Points eines Geraets
func PendingHandler(cmd *cobra.Command, args []string) error {
	device, err := deviceArg(args)
	if err != nil {
		return err
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	pending, err := client.Pending(cmd.Context(), device)
	if err != nil {
		return err
	}

	var data [][]string
	for _, p := range pending.Pending {
		data = append(data, []string{p.TaskID, p.EntryPoint})
	}

	renderTable([]string{"TASK", "ENTRY"}, data)
	return nil
}

// ResetHandler - Setzt Code-Caches und Geraetepuffer des Servers zurueck
func ResetHandler(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	if err := client.Reset(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("runtime reset")
	return nil
}

func deviceArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	i, err := strconv.Atoi(args[0])
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid device index %q", args[0])
	}
	return i, nil
}

// newCacheCmd - Erstellt den cache Command mit Unterbefehlen
func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect persisted binaries and build failures",
	}

	lsCmd := &cobra.Command{
		Use:     "list [DEVICE]",
		Aliases: []string{"ls"},
		Short:   "List persisted binaries",
		Args:    cobra.MaximumNArgs(1),
		RunE:    CacheListHandler,
	}
	lsCmd.Flags().Bool("remote", false, "Query the running server")

	failuresCmd := &cobra.Command{
		Use:   "failures",
		Short: "List recent build failures",
		Args:  cobra.ExactArgs(0),
		RunE:  CacheFailuresHandler,
	}
	failuresCmd.Flags().Int("limit", 20, "Maximum number of failures (0 for all)")
	failuresCmd.Flags().Bool("remote", false, "Query the running server")

	rmCmd := &cobra.Command{
		Use:   "rm DEVICE [DEVICE...]",
		Short: "Remove the persisted binaries of devices",
		Args:  cobra.MinimumNArgs(1),
		RunE:  CacheRemoveHandler,
	}

	cacheCmd.AddCommand(lsCmd, failuresCmd, rmCmd)
	return cacheCmd
}

// newKernelsCmd - Erstellt den kernels Command
func newKernelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "kernels [DEVICE]",
		Short:   "List installed kernels of a device on the running server",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    KernelsHandler,
	}
}

// newPendingCmd - Erstellt den pending Command
func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "pending [DEVICE]",
		Short:   "List entry points waiting for their program",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    PendingHandler,
	}
}

// newResetCmd - Erstellt den reset Command
func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		Short:   "Drop all installed kernels and device buffers of the running server",
		Args:    cobra.ExactArgs(0),
		PreRunE: checkServerHeartbeat,
		RunE:    ResetHandler,
	}
}
