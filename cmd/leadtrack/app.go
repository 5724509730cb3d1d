package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"leadtrack-engine/internal/backup"
	"leadtrack-engine/internal/events"
	"leadtrack-engine/internal/leads"
	"leadtrack-engine/internal/workspace"
)

// openWorkspace opens the lead database in the data directory. A nil mgr
// gets the configured backup manager, with an S3 uploader when a bucket is set.
func openWorkspace(ctx context.Context, hub *events.Hub, mgr *backup.Manager) (*workspace.Workspace, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	key, err := leads.ParseNaturalKey(cfg.Import.NaturalKey)
	if err != nil {
		return nil, err
	}
	if mgr == nil {
		if mgr, err = backupManager(ctx, cfg.Backup.S3.Bucket, cfg.Backup.S3.Prefix); err != nil {
			return nil, err
		}
	}
	ws, err := workspace.Open(ctx, workspace.Options{
		DataDir:            dataDir,
		NaturalKey:         key,
		ProductVocabulary:  cfg.Import.ProductVocabulary,
		Presets:            cfg.Import.Presets,
		AutosaveOnMutation: cfg.Autosave.OnMutation,
		Backups:            mgr,
		Hub:                hub,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	if bad := ws.Corrupt(); len(bad) > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d corrupt record(s) skipped while loading %s\n", len(bad), ws.Path())
	}
	return ws, nil
}

func backupManager(ctx context.Context, bucket, prefix string) (*backup.Manager, error) {
	dir := cfg.Backup.Dir
	if dir == "" {
		dir = "backups"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(dataDir, dir)
	}
	opts := backup.Options{Dir: dir, Keep: cfg.Backup.Keep, Logger: logger}
	if bucket != "" {
		up, err := backup.NewS3Uploader(ctx, backup.S3Config{
			Bucket:   bucket,
			Prefix:   prefix,
			Region:   cfg.Backup.S3.Region,
			Endpoint: cfg.Backup.S3.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 uploader: %w", err)
		}
		opts.Uploader = up
	}
	return backup.NewManager(opts), nil
}

// withWorkspace runs fn against an open workspace and closes it afterwards,
// saving anything left unsaved.
func withWorkspace(ctx context.Context, fn func(ws *workspace.Workspace) error) error {
	ws, err := openWorkspace(ctx, nil, nil)
	if err != nil {
		return err
	}
	ferr := fn(ws)
	if err := ws.Close(ctx); err != nil {
		logger.Error("close workspace", zap.Error(err))
		if ferr == nil {
			return err
		}
	}
	return ferr
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
