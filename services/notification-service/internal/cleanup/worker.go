// Package cleanup runs the notification service's retention tasks on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Task deletes one kind of expired row and reports how many went.
type Task struct {
	Name  string
	Purge func(ctx context.Context) (int64, error)
}

type Worker struct {
	tasks    []Task
	logger   *slog.Logger
	interval time.Duration
}

func NewWorker(logger *slog.Logger, interval time.Duration, tasks ...Task) *Worker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Worker{tasks: tasks, logger: logger, interval: interval}
}

// Run purges once at start and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce keeps going past a failed task; each one owns separate rows.
func (w *Worker) runOnce(ctx context.Context) {
	for _, t := range w.tasks {
		if ctx.Err() != nil {
			return
		}
		n, err := t.Purge(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("cleanup task failed", "task", t.Name, "err", err)
			}
			continue
		}
		if n > 0 {
			w.logger.Info("cleanup task purged rows", "task", t.Name, "count", n)
		}
	}
}
