// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"OFFLOAD_DEBUG":              {"OFFLOAD_DEBUG", LogLevel(), "Show additional debug information (e.g. OFFLOAD_DEBUG=1)"},
		"OFFLOAD_HOST":               {"OFFLOAD_HOST", Host(), "IP Address for the status server (default 127.0.0.1:11535)"},
		"OFFLOAD_ORIGINS":            {"OFFLOAD_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins for the status server"},
		"OFFLOAD_CODECACHE_ENABLE":   {"OFFLOAD_CODECACHE_ENABLE", CacheEnable(), "Persist compiled kernel binaries"},
		"OFFLOAD_CODECACHE_DUMP":     {"OFFLOAD_CODECACHE_DUMP", DumpBinaries(), "Dump compiled kernel binaries"},
		"OFFLOAD_CODECACHE_DIR":      {"OFFLOAD_CODECACHE_DIR", CacheDir(), "The path to the binary cache directory"},
		"OFFLOAD_SOURCE_DUMP":        {"OFFLOAD_SOURCE_DUMP", DumpSource(), "Dump kernel source on install"},
		"OFFLOAD_SOURCE_PRINT":       {"OFFLOAD_SOURCE_PRINT", PrintSource(), "Print kernel source on install"},
		"OFFLOAD_SOURCE_DIR":         {"OFFLOAD_SOURCE_DIR", SourceDir(), "The path to the source dump directory"},
		"OFFLOAD_LOG_DIR":            {"OFFLOAD_LOG_DIR", LogDir(), "The path to the build diagnostics directory"},
		"OFFLOAD_FPGA_CONF":          {"OFFLOAD_FPGA_CONF", Var("OFFLOAD_FPGA_CONF"), "FPGA device description file"},
		"OFFLOAD_FPGA_EMULATION":     {"OFFLOAD_FPGA_EMULATION", FPGAEmulation(), "Compile FPGA kernels for emulation"},
		"OFFLOAD_PRECOMPILED_BINARY": {"OFFLOAD_PRECOMPILED_BINARY", PrecompiledBinaries(), "Precompiled binary manifest (list or file)"},
		"OFFLOAD_SDK":                {"OFFLOAD_SDK", SDK(), "Runtime tool installation directory"},
		"OFFLOAD_CALLSTACK_LIMIT":    {"OFFLOAD_CALLSTACK_LIMIT", CallStackLimit(), "Maximum kernel argument frame size in bytes (default 8192)"},
		"OFFLOAD_NUM_THREADS":        {"OFFLOAD_NUM_THREADS", NumThreads(), "Worker threads for the host device"},
		"OFFLOAD_PLATFORM":           {"OFFLOAD_PLATFORM", Platform(), "Default platform index"},
		"OFFLOAD_DEVICE":             {"OFFLOAD_DEVICE", Device(), "Default device index"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
