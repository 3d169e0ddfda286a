package store

import (
	"context"
	"time"

	"github.com/hazyhaar/dommirror/dbopen"
)

// Watchpoint is a persisted watchpoint.
type Watchpoint struct {
	ID          string `json:"id"`
	DocumentURL string `json:"document_url"`
	Path        string `json:"path"`
	Kind        int    `json:"kind"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Upsert inserts w, or refreshes the enabled flag of the row with the same
// (document_url, path, kind). The row keeps its original id.
func (s *Store) Upsert(ctx context.Context, w *Watchpoint) error {
	now := time.Now().UnixMilli()
	if w.CreatedAt == 0 {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO watchpoints (id, document_url, path, kind, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_url, path, kind) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		w.ID, w.DocumentURL, w.Path, w.Kind, boolInt(w.Enabled), w.CreatedAt, w.UpdatedAt,
	)
	return err
}

// Delete removes the watchpoint at (documentURL, path, kind).
func (s *Store) Delete(ctx context.Context, documentURL, path string, kind int) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		DELETE FROM watchpoints WHERE document_url = ? AND path = ? AND kind = ?`,
		documentURL, path, kind)
	return err
}

// SetEnabled updates the enabled flag of an existing watchpoint.
func (s *Store) SetEnabled(ctx context.Context, documentURL, path string, kind int, enabled bool) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		UPDATE watchpoints SET enabled = ?, updated_at = ?
		WHERE document_url = ? AND path = ? AND kind = ?`,
		boolInt(enabled), time.Now().UnixMilli(), documentURL, path, kind)
	return err
}

// ListByURL returns the watchpoints saved for a document URL, oldest first.
func (s *Store) ListByURL(ctx context.Context, documentURL string) ([]*Watchpoint, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, document_url, path, kind, enabled, created_at, updated_at
		FROM watchpoints WHERE document_url = ?
		ORDER BY created_at, path, kind`, documentURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Watchpoint
	for rows.Next() {
		w := &Watchpoint{}
		var enabled int
		if err := rows.Scan(&w.ID, &w.DocumentURL, &w.Path, &w.Kind, &enabled, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Enabled = enabled != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

// Count returns the number of saved watchpoints.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM watchpoints`).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
