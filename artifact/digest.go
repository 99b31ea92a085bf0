// Package artifact persists code-cache artifacts on disk: device binaries,
// dumped kernel sources and build diagnostics.
//
// Modul: digest.go - SHA-256 Digest fuer persistierte Binaries
// Enthaelt: Digest, ParseDigest, readAndSum
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrInvalidDigest is returned by ParseDigest for malformed input.
var ErrInvalidDigest = errors.New("artifact: invalid digest")

// Digest is the sha256 sum of a persisted artifact.
type Digest struct {
	sum [32]byte
}

// Sum returns the digest of data.
func Sum(data []byte) Digest {
	return Digest{sum: sha256.Sum256(data)}
}

// ParseDigest parses the "sha256:<hex>" or "sha256-<hex>" form.
func ParseDigest(s string) (Digest, error) {
	hexpart, ok := strings.CutPrefix(s, "sha256:")
	if !ok {
		hexpart, ok = strings.CutPrefix(s, "sha256-")
	}
	if !ok || len(hexpart) != 64 {
		return Digest{}, fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}

	var d Digest
	if _, err := hex.Decode(d.sum[:], []byte(hexpart)); err != nil {
		return Digest{}, fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	return d, nil
}

func (d Digest) String() string {
	return "sha256:" + hex.EncodeToString(d.sum[:])
}

// Short returns the first 12 hex characters, for tables and logs.
func (d Digest) Short() string {
	return hex.EncodeToString(d.sum[:6])
}

func (d Digest) IsValid() bool {
	return d != Digest{}
}

func readAndSum(filename string, limit int64) (data []byte, _ Digest, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, Digest{}, err
	}
	defer f.Close()

	h := sha256.New()
	r := io.TeeReader(f, h)
	data, err = io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, Digest{}, err
	}
	var d Digest
	h.Sum(d.sum[:0])
	return data, d, nil
}
