package accesslog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
)

// Retainer purges access records older than a configured window on a cron
// schedule. A zero window or empty schedule disables it.
type Retainer struct {
	db       *pgxpool.Pool
	window   time.Duration
	schedule string
	logger   *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewRetainer creates a retention job for the access_log table.
func NewRetainer(db *pgxpool.Pool, window time.Duration, schedule string, logger *slog.Logger) *Retainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retainer{
		db:       db,
		window:   window,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules the purge job.
func (r *Retainer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.window <= 0 || r.schedule == "" {
		r.logger.Info("access log retention not configured, skipping")
		return nil
	}

	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", r.schedule, err)
	}

	if _, err := r.cron.AddFunc(r.schedule, r.runPurge); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}

	r.cron.Start()
	r.running = true

	r.logger.Info("access log retention started",
		"schedule", r.schedule,
		"window", r.window,
	)
	return nil
}

// Stop stops the scheduler and waits for a running purge to complete.
func (r *Retainer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.running = false
	r.logger.Info("access log retention stopped")
}

// Purge deletes records older than the retention window and reports how many
// went away.
func (r *Retainer) Purge(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.window)
	tag, err := r.db.Exec(ctx, `DELETE FROM access_log WHERE logged_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge access log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// runPurge executes one scheduled purge cycle.
func (r *Retainer) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := r.Purge(ctx)
	if err != nil {
		r.logger.Error("scheduled purge failed", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("purged access records", "deleted", deleted)
	} else {
		r.logger.Debug("purge completed, nothing to delete")
	}
}
