package ml

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAccess(t *testing.T) {
	cases := map[string]Access{
		"READ":       AccessRead,
		"r":          AccessRead,
		"write":      AccessWrite,
		"READ_WRITE": AccessReadWrite,
		"rw":         AccessReadWrite,
	}
	for s, want := range cases {
		got, err := ParseAccess(s)
		if err != nil {
			t.Errorf("ParseAccess(%q): %v", s, err)
			continue
		}
		if got != want {
			t.Errorf("ParseAccess(%q) = %v, erwartet %v", s, got, want)
		}
	}

	if _, err := ParseAccess("x"); err == nil {
		t.Error("erwartet Fehler fuer unbekannten Modus")
	}
}

func TestAccessDirections(t *testing.T) {
	type dir struct{ Reads, Writes bool }
	got := map[Access]dir{}
	for _, a := range []Access{AccessNone, AccessRead, AccessWrite, AccessReadWrite} {
		got[a] = dir{a.Reads(), a.Writes()}
	}

	want := map[Access]dir{
		AccessNone:      {false, false},
		AccessRead:      {true, false},
		AccessWrite:     {false, true},
		AccessReadWrite: {true, true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("directions mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceInfo(t *testing.T) {
	info := DeviceInfo{
		DeviceID:     DeviceID{Library: "opencl", PlatformIndex: 1, Index: 2},
		Vendor:       "Intel(R) Corporation",
		Capabilities: CapSharedProgram | CapBinaryDump,
	}

	if got := info.DeviceID.String(); got != "opencl:1:2" {
		t.Errorf("id = %q", got)
	}
	if got := info.Dir(); got != "device-1-2" {
		t.Errorf("dir = %q", got)
	}
	if got := info.VendorPrefix(); got != "intel" {
		t.Errorf("vendor prefix = %q", got)
	}
	if got := info.Capabilities.String(); got != "shared-program,binary-dump" {
		t.Errorf("capabilities = %q", got)
	}
	if !info.Has(CapBinaryDump) || info.Has(CapAsyncLaunch) {
		t.Error("Has liefert falsche Werte")
	}

	info.PlatformVendor = "Xilinx"
	if got := info.VendorPrefix(); got != "xilinx" {
		t.Errorf("vendor prefix = %q", got)
	}
}
