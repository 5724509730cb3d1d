package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	_ "modernc.org/sqlite"
)

// ErrLocked means another process already holds the database for writing.
var ErrLocked = errors.New("database is locked by another process")

type DB struct {
	Pool *sql.DB
	Path string

	lock *flock.Flock
}

type OpenOptions struct {
	// ReadOnly skips the writer lock and migrations; the schema version is
	// still checked.
	ReadOnly bool
}

// Open opens (and migrates) the lead database at path. Only one writer
// process may hold a database; a second Open fails with ErrLocked.
func Open(path string, opts OpenOptions) (*DB, error) {
	d := &DB{Path: path}
	if !opts.ReadOnly {
		d.lock = flock.New(path + ".lock")
		ok, err := d.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
	}

	// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	}

	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		d.unlock()
		return nil, err
	}

	pool.SetMaxOpenConns(1) // sqlite typically wants 1 writer
	pool.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		d.unlock()
		return nil, err
	}
	d.Pool = pool

	if opts.ReadOnly {
		err = CheckVersion(pool)
	} else {
		err = Migrate(pool)
	}
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	var err error
	if d.Pool != nil {
		err = d.Pool.Close()
	}
	d.unlock()
	return err
}

func (d *DB) unlock() {
	if d.lock != nil {
		_ = d.lock.Unlock()
	}
}
