package store

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := &Store{DBPath: filepath.Join(t.TempDir(), "index.sqlite")}
	t.Cleanup(func() { s.Close() })
	return s
}

var ignoreGenerated = cmpopts.IgnoreFields(Binary{}, "ID", "CreatedAt")

func TestRecordBinaryReplaces(t *testing.T) {
	s := testStore(t)

	first := Binary{Device: "host:0:0", Task: "s0.t0", Entry: "vectorAdd", Path: "/a", Digest: "sha256:01", Size: 3}
	if _, err := s.RecordBinary(first); err != nil {
		t.Fatal(err)
	}

	second := first
	second.Path = "/b"
	second.Digest = "sha256:02"
	if _, err := s.RecordBinary(second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Binaries("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Binary{second}, got, ignoreGenerated); diff != "" {
		t.Errorf("binaries mismatch (-want +got):\n%s", diff)
	}
}

func TestBinariesByDevice(t *testing.T) {
	s := testStore(t)

	for _, b := range []Binary{
		{Device: "host:0:0", Entry: "saxpy", Path: "/0/saxpy", Digest: "d"},
		{Device: "host:0:1", Entry: "saxpy", Path: "/1/saxpy", Digest: "d"},
		{Device: "host:0:0", Entry: "daxpy", Path: "/0/daxpy", Digest: "d"},
	} {
		if _, err := s.RecordBinary(b); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Binaries("host:0:0")
	if err != nil {
		t.Fatal(err)
	}
	var entries []string
	for _, b := range got {
		entries = append(entries, b.Entry)
	}
	if diff := cmp.Diff([]string{"daxpy", "saxpy"}, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	b, err := s.Binary("host:0:1", "saxpy")
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.Path != "/1/saxpy" {
		t.Errorf("Binary = %+v", b)
	}

	n, err := s.ForgetDevice("host:0:0")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("ForgetDevice removed %d rows, want 2", n)
	}

	b, err = s.Binary("host:0:0", "saxpy")
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Errorf("Binary after ForgetDevice = %+v, want nil", b)
	}
}

func TestFailures(t *testing.T) {
	s := testStore(t)

	for _, entry := range []string{"first", "second"} {
		if _, err := s.RecordFailure(Failure{Device: "fake:0:0", Task: "s0.t0", Entry: entry, Message: "error: " + entry}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Failures(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Entry != "second" {
		t.Fatalf("Failures(1) = %+v, want newest only", got)
	}

	all, err := s.Failures(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("Failures(0) returned %d rows, want 2", len(all))
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")

	s := &Store{DBPath: path}
	if _, err := s.RecordBinary(Binary{Device: "d", Entry: "e", Path: "p", Digest: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = &Store{DBPath: path}
	defer s.Close()
	got, err := s.Binaries("")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("reopened store has %d binaries, want 1", len(got))
	}
}
