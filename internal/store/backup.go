package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"leadtrack-engine/internal/domain"
)

// Backup writes a consistent copy of the database to dest. The copy is built
// next to dest and renamed into place, so dest is never partially written.
func (d *DB) Backup(ctx context.Context, dest string) (string, error) {
	fail := func(err error) (string, error) {
		return "", &domain.PersistenceError{Op: "backup", Key: dest, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fail(err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fail(fmt.Errorf("%s already exists", dest))
	}
	tmp := dest + ".tmp"
	_ = os.Remove(tmp)
	if _, err := d.Pool.ExecContext(ctx, `VACUUM INTO ?;`, tmp); err != nil {
		_ = os.Remove(tmp)
		return fail(err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fail(err)
	}
	return dest, nil
}
