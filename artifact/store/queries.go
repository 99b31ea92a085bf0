// queries.go - Lese- und Schreiboperationen des Artefakt-Index
// Enthält: upsertBinary, getBinaries, deleteBinaries, insertFailure, getFailures

package store

import (
	"database/sql"
	"fmt"
)

// upsertBinary ersetzt den Eintrag für (device, entry)
func (db *database) upsertBinary(b Binary) error {
	_, err := db.conn.Exec(`
		INSERT INTO binaries (id, device, task, entry, path, digest, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device, entry) DO UPDATE SET
			id = excluded.id,
			task = excluded.task,
			path = excluded.path,
			digest = excluded.digest,
			size = excluded.size,
			created_at = CURRENT_TIMESTAMP
	`, b.ID, b.Device, b.Task, b.Entry, b.Path, b.Digest, b.Size)
	if err != nil {
		return fmt.Errorf("upsert binary: %w", err)
	}
	return nil
}

// getBinaries liefert alle Binaries, optional gefiltert nach Gerät
func (db *database) getBinaries(device string) ([]Binary, error) {
	query := `
		SELECT id, device, task, entry, path, digest, size, created_at
		FROM binaries
		WHERE (? = '' OR device = ?)
		ORDER BY device, entry
	`
	rows, err := db.conn.Query(query, device, device)
	if err != nil {
		return nil, fmt.Errorf("query binaries: %w", err)
	}
	defer rows.Close()

	var binaries []Binary
	for rows.Next() {
		var b Binary
		if err := rows.Scan(&b.ID, &b.Device, &b.Task, &b.Entry, &b.Path, &b.Digest, &b.Size, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan binary: %w", err)
		}
		binaries = append(binaries, b)
	}
	return binaries, rows.Err()
}

// getBinary sucht das Binary für (device, entry)
func (db *database) getBinary(device, entry string) (*Binary, error) {
	var b Binary
	err := db.conn.QueryRow(`
		SELECT id, device, task, entry, path, digest, size, created_at
		FROM binaries
		WHERE device = ? AND entry = ?
	`, device, entry).Scan(&b.ID, &b.Device, &b.Task, &b.Entry, &b.Path, &b.Digest, &b.Size, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query binary: %w", err)
	}
	return &b, nil
}

// deleteBinaries entfernt alle Einträge eines Geräts
func (db *database) deleteBinaries(device string) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM binaries WHERE device = ?", device)
	if err != nil {
		return 0, fmt.Errorf("delete binaries: %w", err)
	}
	return res.RowsAffected()
}

func (db *database) insertFailure(f Failure) error {
	_, err := db.conn.Exec(`
		INSERT INTO build_failures (id, device, task, entry, log_path, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.Device, f.Task, f.Entry, f.LogPath, f.Message)
	if err != nil {
		return fmt.Errorf("insert build failure: %w", err)
	}
	return nil
}

// getFailures liefert die Build-Fehler, neueste zuerst
func (db *database) getFailures(limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(`
		SELECT id, device, task, entry, log_path, message, created_at
		FROM build_failures
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query build failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.Device, &f.Task, &f.Entry, &f.LogPath, &f.Message, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan build failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
