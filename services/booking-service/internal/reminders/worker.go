// Package reminders periodically enqueues reminder notifications for confirmed appointments
// that start soon.
package reminders

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/httpx"
)

// DueLister finds confirmed, not yet reminded appointments starting in [from, to).
type DueLister interface {
	DueReminders(ctx context.Context, from, to time.Time, limit int) ([]string, error)
}

// Reminder emits the reminder for one appointment. It must be safe to call twice.
type Reminder interface {
	Remind(ctx context.Context, id string) (bool, error)
}

type WorkerConfig struct {
	Interval  time.Duration
	LeadMin   time.Duration
	LeadMax   time.Duration
	BatchSize int
}

type Worker struct {
	due       DueLister
	reminder  Reminder
	logger    *slog.Logger
	interval  time.Duration
	leadMin   time.Duration
	leadMax   time.Duration
	batchSize int
	now       func() time.Time
}

func NewWorker(due DueLister, reminder Reminder, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.LeadMin <= 0 {
		cfg.LeadMin = 2 * time.Hour
	}
	if cfg.LeadMax <= cfg.LeadMin {
		cfg.LeadMax = cfg.LeadMin + time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Worker{
		due:       due,
		reminder:  reminder,
		logger:    logger,
		interval:  cfg.Interval,
		leadMin:   cfg.LeadMin,
		leadMax:   cfg.LeadMax,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

// processBatch reminds every appointment in the lead window and returns how many notifications
// were enqueued. One failing appointment does not stop the rest.
func (w *Worker) processBatch(ctx context.Context) (int, error) {
	runID := httpx.NewRequestID()
	ctx = httpx.ContextWithRequestID(ctx, runID)
	now := w.now()
	ids, err := w.due.DueReminders(ctx, now.Add(w.leadMin), now.Add(w.leadMax), w.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		ok, err := w.reminder.Remind(ctx, id)
		if err != nil {
			w.logger.Warn("reminder failed", "run_id", runID, "appointment_id", id, "err", err)
			continue
		}
		if ok {
			sent++
		}
	}
	if len(ids) > 0 {
		w.logger.Info("reminders processed", "run_id", runID, "due", len(ids), "sent", sent)
	}
	return sent, nil
}
