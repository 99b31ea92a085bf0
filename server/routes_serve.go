// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Hauptfunktion zum Starten des HTTP-Servers

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ollama/offload/artifact/store"
	"github.com/ollama/offload/engine"
	"github.com/ollama/offload/version"
)

// Serve runs the status server on ln until SIGINT or SIGTERM. The runtime
// context is closed on shutdown.
func Serve(ln net.Listener, rt *engine.Context, index *store.Store) error {
	s := New(rt, index)
	s.addr = ln.Addr()

	ctx, done := context.WithCancel(context.Background())
	srvr := &http.Server{Handler: s.GenerateRoutes()}

	// listen for a ctrl+c and release the devices
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
		if err := rt.Close(); err != nil {
			slog.Warn("closing runtime", "error", err)
		}
		done()
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	err := srvr.Serve(ln)
	// If server is closed from the signal handler, wait for the ctx to be done
	// otherwise error out quickly
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}
