package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Task func(ctx context.Context) error

// Every runs task once per interval until ctx is done. Errors are logged
// through the global zap logger and never stop the loop. A run in progress
// delays the next tick rather than overlapping it.
func Every(ctx context.Context, interval time.Duration, name string, task Task) {
	if interval <= 0 {
		return
	}
	log := zap.L().Named(name)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			start := time.Now()
			if err := task(ctx); err != nil {
				log.Warn("task failed", zap.Error(err))
				continue
			}
			log.Debug("task done", zap.Duration("took", time.Since(start)))
		}
	}
}
