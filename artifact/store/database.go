// database.go - SQLite-Verbindung und Schema des Artefakt-Index
// Enthält: database struct, newDatabase, Close, init, Schema-Version

package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// currentSchemaVersion wird bei Schema-Änderungen erhöht.
const currentSchemaVersion = 1

// database umhüllt die SQLite-Verbindung. SQLite serialisiert Schreiber,
// der WAL-Modus lässt Leser parallel laufen.
type database struct {
	conn *sql.DB
}

// newDatabase öffnet die Datenbank und legt das Schema an
func newDatabase(dbPath string) (*database, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &database{conn: conn}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return db, nil
}

// Close schließt die Datenbankverbindung
func (db *database) Close() error {
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return db.conn.Close()
}

// init legt das Schema an
func (db *database) init() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO meta (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS binaries (
		id TEXT PRIMARY KEY,
		device TEXT NOT NULL,
		task TEXT NOT NULL DEFAULT '',
		entry TEXT NOT NULL,
		path TEXT NOT NULL,
		digest TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (device, entry)
	);

	CREATE INDEX IF NOT EXISTS idx_binaries_device ON binaries(device);

	CREATE TABLE IF NOT EXISTS build_failures (
		id TEXT PRIMARY KEY,
		device TEXT NOT NULL,
		task TEXT NOT NULL,
		entry TEXT NOT NULL,
		log_path TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_build_failures_task ON build_failures(task, entry);
	`, currentSchemaVersion)

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	version, err := db.schemaVersion()
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return nil
}

func (db *database) schemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow("SELECT schema_version FROM meta WHERE id = 1").Scan(&version)
	return version, err
}
