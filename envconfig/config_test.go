// config_test.go - Unit Tests fuer die Environment-Konfiguration
package envconfig

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestDirectories testet Overrides und Defaults der Verzeichnisse
func TestDirectories(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cases := []struct {
		name  string
		key   string
		value string
		fn    func() string
		want  string
	}{
		{"cache default", "OFFLOAD_CODECACHE_DIR", "", CacheDir, filepath.Join("/home/tester", ".offload", "codecache")},
		{"cache override", "OFFLOAD_CODECACHE_DIR", "/var/cache", CacheDir, "/var/cache"},
		{"source default", "OFFLOAD_SOURCE_DIR", "", SourceDir, filepath.Join("/home/tester", ".offload", "source")},
		{"log quoted", "OFFLOAD_LOG_DIR", "\"/var/log/offload\"", LogDir, "/var/log/offload"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if got := tt.fn(); got != tt.want {
				t.Errorf("%s = %q, erwartet %q", tt.key, got, tt.want)
			}
		})
	}
}

// TestBool testet die Bool-Getter
func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"false": false,
		"0":     false,
		"1":     true,
		"true":  true,
		"bogus": true,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("OFFLOAD_CODECACHE_ENABLE", value)
			if got := CacheEnable(); got != want {
				t.Errorf("CacheEnable() mit %q = %v, erwartet %v", value, got, want)
			}
		})
	}
}

// TestCallStackLimit testet den Default und ungueltige Werte
func TestCallStackLimit(t *testing.T) {
	t.Setenv("OFFLOAD_CALLSTACK_LIMIT", "")
	if got := CallStackLimit(); got != 8192 {
		t.Errorf("CallStackLimit() = %d, erwartet 8192", got)
	}

	t.Setenv("OFFLOAD_CALLSTACK_LIMIT", "-3")
	if got := CallStackLimit(); got != 8192 {
		t.Errorf("CallStackLimit() mit ungueltigem Wert = %d, erwartet 8192", got)
	}

	t.Setenv("OFFLOAD_CALLSTACK_LIMIT", "1024")
	if got := CallStackLimit(); got != 1024 {
		t.Errorf("CallStackLimit() = %d, erwartet 1024", got)
	}
}

// TestLogLevel testet die Abbildung von OFFLOAD_DEBUG
func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for value, want := range cases {
		t.Setenv("OFFLOAD_DEBUG", value)
		if got := LogLevel(); got != want {
			t.Errorf("LogLevel() mit %q = %v, erwartet %v", value, got, want)
		}
	}
}

// TestFPGAConfigFile testet die herstellerabhaengige Default-Datei
func TestFPGAConfigFile(t *testing.T) {
	t.Setenv("OFFLOAD_FPGA_CONF", "")
	if got := filepath.Base(FPGAConfigFile("Xilinx")); got != "xilinx-fpga.conf" {
		t.Errorf("FPGAConfigFile(Xilinx) = %q", got)
	}
	if got := filepath.Base(FPGAConfigFile("Intel(R) Corporation")); got != "intel-fpga.conf" {
		t.Errorf("FPGAConfigFile(Intel) = %q", got)
	}

	t.Setenv("OFFLOAD_FPGA_CONF", "/etc/board.conf")
	if got := FPGAConfigFile("xilinx"); got != "/etc/board.conf" {
		t.Errorf("FPGAConfigFile mit Override = %q", got)
	}
}

// TestValues prueft, dass jede Variable exportiert wird
func TestValues(t *testing.T) {
	t.Setenv("OFFLOAD_SDK", "/opt/offload")
	vals := Values()

	if diff := cmp.Diff("/opt/offload", vals["OFFLOAD_SDK"]); diff != "" {
		t.Errorf("OFFLOAD_SDK mismatch (-want +got):\n%s", diff)
	}
	if len(vals) != len(AsMap()) {
		t.Errorf("Values() hat %d Eintraege, AsMap() %d", len(vals), len(AsMap()))
	}
}

// TestHost prueft Schema, Port-Defaults und ungueltige Ports
func TestHost(t *testing.T) {
	cases := map[string]string{
		"":                       "http://127.0.0.1:11535",
		"1.2.3.4":                "http://1.2.3.4:11535",
		":1234":                  "http://:1234",
		"0.0.0.0:8080":           "http://0.0.0.0:8080",
		"http://example.com":     "http://example.com:80",
		"https://example.com":    "https://example.com:443",
		"example.com:99999":      "http://example.com:11535",
		"http://[::1]:7000/base": "http://[::1]:7000/base",
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("OFFLOAD_HOST", value)
			if got := Host().String(); got != want {
				t.Errorf("Host() mit %q = %q, erwartet %q", value, got, want)
			}
		})
	}
}

// TestAllowedOrigins prueft eigene Origins und die localhost-Defaults
func TestAllowedOrigins(t *testing.T) {
	t.Setenv("OFFLOAD_ORIGINS", "")
	defaults := AllowedOrigins()
	if len(defaults) != 12 {
		t.Fatalf("%d Default-Origins, erwartet 12: %v", len(defaults), defaults)
	}
	if defaults[2] != "http://localhost:*" {
		t.Errorf("defaults[2] = %q", defaults[2])
	}

	t.Setenv("OFFLOAD_ORIGINS", "https://dash.example.com, ,http://10.0.0.2:3000")
	got := AllowedOrigins()
	if diff := cmp.Diff([]string{"https://dash.example.com", "http://10.0.0.2:3000"}, got[:2]); diff != "" {
		t.Errorf("origins mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(defaults, got[2:]); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}
