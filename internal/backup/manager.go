// Package backup takes database backups into a local directory, prunes old
// ones and optionally copies each new backup off-site.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Source writes a consistent copy of the live database to dest.
type Source interface {
	Backup(ctx context.Context, dest string) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader) (string, error)
}

type Options struct {
	Dir string
	// Keep is the number of local backups retained; 0 keeps all.
	Keep     int
	Uploader Uploader
	Logger   *zap.Logger
	Now      func() time.Time
}

type Manager struct {
	dir  string
	keep int
	up   Uploader
	log  *zap.Logger
	now  func() time.Time
}

// Result describes one completed backup.
type Result struct {
	Path   string   `json:"path"`
	Remote string   `json:"remote,omitempty"`
	Pruned []string `json:"pruned,omitempty"`
}

const (
	namePrefix = "leads_backup_"
	nameSuffix = ".db"
)

func NewManager(opts Options) *Manager {
	m := &Manager{dir: opts.Dir, keep: opts.Keep, up: opts.Uploader, log: opts.Logger, now: opts.Now}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) Dir() string { return m.dir }

// Run takes a backup of src, uploads it when an uploader is set and prunes
// local backups beyond the retention count. A failed upload or prune is
// reported but the local backup is kept.
func (m *Manager) Run(ctx context.Context, src Source) (Result, error) {
	res, err := m.Copy(ctx, src)
	if err != nil {
		return res, err
	}
	return m.Finish(ctx, res)
}

// Copy writes the next local backup of src. Callers that must keep src
// quiet during the copy hold their lock for Copy only.
func (m *Manager) Copy(ctx context.Context, src Source) (Result, error) {
	if m.dir == "" {
		return Result{}, errors.New("backup: no directory configured")
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("backup dir: %w", err)
	}
	p, err := src.Backup(ctx, m.nextPath())
	if err != nil {
		return Result{}, err
	}
	m.log.Info("backup written", zap.String("path", p))
	return Result{Path: p}, nil
}

// Finish uploads the local backup in res and prunes old ones.
func (m *Manager) Finish(ctx context.Context, res Result) (Result, error) {
	var errs []error
	if m.up != nil {
		remote, err := m.upload(ctx, res.Path)
		if err != nil {
			errs = append(errs, err)
		} else {
			res.Remote = remote
			m.log.Info("backup uploaded", zap.String("remote", remote))
		}
	}
	pruned, err := m.Prune()
	if err != nil {
		errs = append(errs, err)
	}
	res.Pruned = pruned
	return res, errors.Join(errs...)
}

func (m *Manager) upload(ctx context.Context, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	remote, err := m.up.Upload(ctx, filepath.Base(p), f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(p), err)
	}
	return remote, nil
}

// nextPath picks the timestamped name, adding a counter when a backup from
// the same second already exists.
func (m *Manager) nextPath() string {
	base := strings.TrimSuffix(BackupName(m.now()), nameSuffix)
	p := filepath.Join(m.dir, base+nameSuffix)
	for i := 2; fileExists(p); i++ {
		p = filepath.Join(m.dir, base+"_"+strconv.Itoa(i)+nameSuffix)
	}
	return p
}

// List returns local backups, oldest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
			continue
		}
		out = append(out, filepath.Join(m.dir, name))
	}
	slices.Sort(out)
	return out, nil
}

// Prune deletes the oldest local backups beyond Keep.
func (m *Manager) Prune() ([]string, error) {
	if m.keep <= 0 {
		return nil, nil
	}
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(all) <= m.keep {
		return nil, nil
	}
	var pruned []string
	var errs []error
	for _, p := range all[:len(all)-m.keep] {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		pruned = append(pruned, p)
		m.log.Debug("backup pruned", zap.String("path", p))
	}
	return pruned, errors.Join(errs...)
}

// BackupName is the default file name for a backup taken at t.
func BackupName(t time.Time) string {
	return namePrefix + t.Format("20060102_150405") + nameSuffix
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
