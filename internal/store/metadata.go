package store

import (
	"database/sql"
	"errors"
)

// SetImportedFileHash records the SHA-256 of an exam file a teacher imported.
func (s *Store) SetImportedFileHash(ownerID int64, name, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (owner_id, name, sha256) VALUES (?, ?, ?)
		 ON CONFLICT(owner_id, name) DO UPDATE SET sha256 = excluded.sha256`,
		ownerID, name, hash,
	)
	return err
}

// GetImportedFileHash returns the recorded hash for a teacher's file name.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ownerID int64, name string) (string, error) {
	var hash string
	err := s.db.QueryRow(
		`SELECT sha256 FROM imported_files WHERE owner_id = ? AND name = ?`, ownerID, name,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// HashImported reports whether a teacher already imported a file with this content.
func (s *Store) HashImported(ownerID int64, hash string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM imported_files WHERE owner_id = ? AND sha256 = ?`, ownerID, hash,
	).Scan(&n)
	return n > 0, err
}
