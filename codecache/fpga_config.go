// fpga_config.go - Geraetebeschreibung fuer FPGA-Ziele
// Enthaelt: FPGAConfig, ParseFPGAConfig, LoadFPGAConfig

package codecache

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// FPGAConfig is the device description of an FPGA target, read from a
// file containing KEY=VALUE lines:
//
//	DEVICE_NAME=xilinx_u50_gen3x16_xdma_201920_3
//	DIRECTORY_BITSTREAM=fpga-source-comp/
//	FLAGS=-O3
//
// Unknown keys and lines without '=' are ignored.
type FPGAConfig struct {
	DeviceName   string
	BitstreamDir string
	Flags        string
}

// ParseFPGAConfig parses a device description. name is used in errors.
func ParseFPGAConfig(r io.Reader, name string) (*FPGAConfig, error) {
	var fc FPGAConfig

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		key, value, ok := strings.Cut(text, "=")
		if !ok {
			continue
		}

		switch strings.TrimSpace(key) {
		case "DEVICE_NAME":
			fc.DeviceName = strings.TrimSpace(value)
		case "DIRECTORY_BITSTREAM":
			fc.BitstreamDir = strings.TrimSpace(value)
		case "FLAGS":
			fc.Flags = strings.TrimSpace(value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ConfigurationError{Source: name, Msg: "read", Err: err}
	}

	switch {
	case fc.DeviceName == "":
		return nil, &ConfigurationError{Source: name, Msg: "missing DEVICE_NAME"}
	case fc.BitstreamDir == "":
		return nil, &ConfigurationError{Source: name, Msg: "missing DIRECTORY_BITSTREAM"}
	}
	return &fc, nil
}

// LoadFPGAConfig reads the device description at path. An unreadable
// file is a *ConfigurationError.
func LoadFPGAConfig(path string) (*FPGAConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Msg: "wrong configuration file or invalid settings", Err: err}
	}
	defer f.Close()

	return ParseFPGAConfig(f, path)
}
