// Package store indexes persisted program binaries and build failures in
// a SQLite database next to the code cache.
//
// Modul: store.go
// Beschreibung: Store-Typ, lazy Datenbank-Initialisierung und
// oeffentliche Operationen.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ollama/offload/envconfig"
)

// Binary is one persisted program binary.
type Binary struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Task      string    `json:"task"`
	Entry     string    `json:"entry"`
	Path      string    `json:"path"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Failure is one failed build with the location of its diagnostics.
type Failure struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Task      string    `json:"task"`
	Entry     string    `json:"entry"`
	LogPath   string    `json:"log_path"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	// DBPath allows overriding the default database path (mainly for testing)
	DBPath string

	// dbMu protects database initialization only
	dbMu sync.Mutex
	db   *database
}

// DefaultPath is the index location inside the configured cache directory.
func DefaultPath() string {
	return filepath.Join(envconfig.CacheDir(), "index.sqlite")
}

func (s *Store) ensureDB() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db != nil {
		return nil
	}

	dbPath := s.DBPath
	if dbPath == "" {
		dbPath = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	database, err := newDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	s.db = database
	return nil
}

func newID() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// RecordBinary indexes a binary, replacing an older one for the same
// device and entry point.
func (s *Store) RecordBinary(b Binary) (Binary, error) {
	if err := s.ensureDB(); err != nil {
		return Binary{}, err
	}
	b.ID = newID()
	if err := s.db.upsertBinary(b); err != nil {
		return Binary{}, err
	}
	return b, nil
}

// Binary returns the indexed binary for device and entry, or nil.
func (s *Store) Binary(device, entry string) (*Binary, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	return s.db.getBinary(device, entry)
}

// Binaries lists indexed binaries. An empty device lists all of them.
func (s *Store) Binaries(device string) ([]Binary, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	return s.db.getBinaries(device)
}

// ForgetDevice drops every binary of device from the index. Files on disk
// are left alone.
func (s *Store) ForgetDevice(device string) (int64, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	return s.db.deleteBinaries(device)
}

func (s *Store) RecordFailure(f Failure) (Failure, error) {
	if err := s.ensureDB(); err != nil {
		return Failure{}, err
	}
	f.ID = newID()
	if err := s.db.insertFailure(f); err != nil {
		return Failure{}, err
	}
	return f, nil
}

// Failures lists recorded build failures, newest first. limit <= 0 means
// no limit.
func (s *Store) Failures(limit int) ([]Failure, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	return s.db.getFailures(limit)
}

func (s *Store) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
