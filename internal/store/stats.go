package store

import (
	"context"
	"os"

	"leadtrack-engine/internal/domain"
)

type Stats struct {
	Leads   int     `json:"leads"`
	Updates int     `json:"updates"`
	SizeMB  float64 `json:"size_mb"`
	Path    string  `json:"path"`
}

func (d *DB) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Path: d.Path}
	if err := d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads;`).Scan(&s.Leads); err != nil {
		return s, &domain.PersistenceError{Op: "stats", Table: "leads", Err: err}
	}
	if err := d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM lead_updates;`).Scan(&s.Updates); err != nil {
		return s, &domain.PersistenceError{Op: "stats", Table: "lead_updates", Err: err}
	}
	if fi, err := os.Stat(d.Path); err == nil {
		s.SizeMB = float64(fi.Size()) / (1024 * 1024)
	}
	return s, nil
}
