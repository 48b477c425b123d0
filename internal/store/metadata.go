package store

import (
	"context"
	"time"
)

// IsImported reports whether a file with this path and hash was already imported.
func (s *Store) IsImported(ctx context.Context, path, sha256 string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT sha256 FROM imported_files WHERE path = $1`, path).Scan(&stored)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == sha256, nil
}

// RecordImport remembers the hash of an imported file.
func (s *Store) RecordImport(ctx context.Context, path, sha256 string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (path, sha256, imported_at) VALUES ($1, $2, $3)
		 ON CONFLICT (path) DO UPDATE SET sha256 = EXCLUDED.sha256, imported_at = EXCLUDED.imported_at`,
		path, sha256, toMillis(time.Now()))
	return err
}
