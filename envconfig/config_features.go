// config_features.go - Feature-Flags der Code-Cache- und FPGA-Pfade
//
// Dieses Modul enthaelt:
// - Feature-Flags fuer Persistenz und Dumps
// - FPGA-bezogene Environment-Variablen
// - Geraete-Auswahl
package envconfig

// =============================================================================
// Code-Cache Feature-Flags
// =============================================================================

var (
	// CacheEnable persistiert kompilierte Binaries im Cache-Verzeichnis
	CacheEnable = Bool("OFFLOAD_CODECACHE_ENABLE")

	// DumpBinaries schreibt Binaries auch ohne aktivierten Cache heraus
	DumpBinaries = Bool("OFFLOAD_CODECACHE_DUMP")

	// DumpSource schreibt jeden installierten Quelltext ins Source-Verzeichnis
	DumpSource = Bool("OFFLOAD_SOURCE_DUMP")

	// PrintSource gibt jeden installierten Quelltext auf stdout aus
	PrintSource = Bool("OFFLOAD_SOURCE_PRINT")
)

// =============================================================================
// FPGA-Konfiguration
// =============================================================================

var (
	// FPGAEmulation waehlt Emulation statt Hardware-Synthese
	FPGAEmulation = Bool("OFFLOAD_FPGA_EMULATION")

	// PrecompiledBinaries ist das Manifest vorkompilierter Binaries
	// Entweder "pfad,task.entry.device,..." oder ein Pfad zu einer Manifest-Datei
	PrecompiledBinaries = String("OFFLOAD_PRECOMPILED_BINARY")

	// SDK ist das Installationsverzeichnis der Runtime-Werkzeuge
	SDK = String("OFFLOAD_SDK")
)

// =============================================================================
// Geraete-Auswahl
// =============================================================================

var (
	// Platform waehlt den Standard-Plattform-Index
	Platform = Uint("OFFLOAD_PLATFORM", 0)

	// Device waehlt den Standard-Geraete-Index
	Device = Uint("OFFLOAD_DEVICE", 0)
)
