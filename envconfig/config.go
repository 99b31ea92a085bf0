// config.go - Haupt-Konfigurationsfunktionen fuer die Offload-Runtime
//
// Dieses Modul enthaelt:
// - Host: Adresse der Status-API (OFFLOAD_HOST)
// - AllowedOrigins: Erlaubte Browser-Origins der Status-API (OFFLOAD_ORIGINS)
// - CacheDir: Verzeichnis fuer persistierte Kernel-Binaries (OFFLOAD_CODECACHE_DIR)
// - SourceDir: Verzeichnis fuer Quelltext-Dumps (OFFLOAD_SOURCE_DIR)
// - LogDir: Verzeichnis fuer Build-Diagnosen (OFFLOAD_LOG_DIR)
// - FPGAConfigFile: Geraete-Beschreibungsdatei (OFFLOAD_FPGA_CONF)
// - CallStackLimit: Maximale Groesse eines Argument-Frames (OFFLOAD_CALLSTACK_LIMIT)
// - LogLevel: Gibt Log-Level zurueck (OFFLOAD_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags (Cache, Dumps, Emulation)
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Host gibt die Adresse der Status-API zurueck
// Konfigurierbar via OFFLOAD_HOST
// Default: http://127.0.0.1:11535
func Host() *url.URL {
	defaultPort := "11535"

	s := strings.TrimSpace(Var("OFFLOAD_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt die erlaubten Browser-Origins der Status-API zurueck
// Konfigurierbar via OFFLOAD_ORIGINS (komma-separiert)
// localhost-Origins sind immer enthalten
func AllowedOrigins() (origins []string) {
	for _, o := range strings.Split(Var("OFFLOAD_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	for _, host := range []string{"localhost", "127.0.0.1", "[::1]"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", host),
			fmt.Sprintf("https://%s", host),
			fmt.Sprintf("http://%s:*", host),
			fmt.Sprintf("https://%s:*", host),
		)
	}
	return origins
}

// Home gibt das Basisverzeichnis der Runtime zurueck
// Default: $HOME/.offload
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".offload")
}

// CacheDir gibt das Verzeichnis fuer persistierte Binaries zurueck
// Konfigurierbar via OFFLOAD_CODECACHE_DIR
// Default: $HOME/.offload/codecache
func CacheDir() string {
	if s := Var("OFFLOAD_CODECACHE_DIR"); s != "" {
		return s
	}
	return filepath.Join(Home(), "codecache")
}

// SourceDir gibt das Verzeichnis fuer Quelltext-Dumps zurueck
// Konfigurierbar via OFFLOAD_SOURCE_DIR
// Default: $HOME/.offload/source
func SourceDir() string {
	if s := Var("OFFLOAD_SOURCE_DIR"); s != "" {
		return s
	}
	return filepath.Join(Home(), "source")
}

// LogDir gibt das Verzeichnis fuer Build-Diagnosen zurueck
// Konfigurierbar via OFFLOAD_LOG_DIR
// Default: $HOME/.offload/logs
func LogDir() string {
	if s := Var("OFFLOAD_LOG_DIR"); s != "" {
		return s
	}
	return filepath.Join(Home(), "logs")
}

// FPGAConfigFile gibt den Pfad zur FPGA-Geraetebeschreibung zurueck
// Konfigurierbar via OFFLOAD_FPGA_CONF
// Default: ./etc/<vendor>-fpga.conf, abhaengig vom Geraetehersteller
func FPGAConfigFile(vendor string) string {
	if s := Var("OFFLOAD_FPGA_CONF"); s != "" {
		return s
	}

	name := "intel-fpga.conf"
	if strings.EqualFold(vendor, "xilinx") {
		name = "xilinx-fpga.conf"
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, "etc", name)
}

// CleanupScript gibt den Pfad zum FPGA-Aufraeum-Skript zurueck
// Abgeleitet von OFFLOAD_SDK, leer wenn kein SDK gesetzt ist
func CleanupScript() string {
	sdk := SDK()
	if sdk == "" {
		return ""
	}
	return filepath.Join(sdk, "bin", "cleanFpga.sh")
}

// CallStackLimit gibt die maximale Frame-Groesse in Bytes zurueck
// Konfigurierbar via OFFLOAD_CALLSTACK_LIMIT
// Default: 8192
func CallStackLimit() int {
	return int(Uint("OFFLOAD_CALLSTACK_LIMIT", 8192)())
}

// NumThreads gibt die Anzahl der Worker fuer das Host-Backend zurueck
// Konfigurierbar via OFFLOAD_NUM_THREADS
// Default: GOMAXPROCS
func NumThreads() int {
	return int(Uint("OFFLOAD_NUM_THREADS", uint(runtime.GOMAXPROCS(0)))())
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via OFFLOAD_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("OFFLOAD_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
