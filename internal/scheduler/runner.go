package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is an idempotent unit of periodic work. The runner keeps no state of its
// own between invocations; everything that must survive lives in the store.
type Job func(ctx context.Context) error

// Runner triggers a Job on a cron schedule inside the serving process. It is
// an alternative to invoking the same entrypoint from an external cron.
type Runner struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *slog.Logger
}

// ErrEmptySpec is returned when no cron expression was supplied.
var ErrEmptySpec = errors.New("scheduler: cron spec is required")

// NewRunner constructs a runner evaluating cron expressions in loc. Overlapping
// runs are skipped rather than queued.
func NewRunner(loc *time.Location, timeout time.Duration, logger *slog.Logger) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		timeout: timeout,
		logger:  logger,
	}
}

// Schedule registers job under name using a standard five-field spec or a
// descriptor such as "@hourly".
func (r *Runner) Schedule(spec, name string, job Job) (cron.EntryID, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, ErrEmptySpec
	}
	if job == nil {
		return 0, fmt.Errorf("scheduler: job %q is nil", name)
	}

	logger := r.logger.With("job", name, "spec", spec)
	id, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			logger.ErrorContext(ctx, "scheduled job failed", "error", err, "duration", time.Since(start))
			return
		}
		logger.InfoContext(ctx, "scheduled job completed", "duration", time.Since(start))
	})
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	return id, nil
}

// Start begins evaluating schedules in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the scheduler and waits for a running job to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Next reports when the entry is next due. It is zero before Start.
func (r *Runner) Next(id cron.EntryID) time.Time {
	return r.cron.Entry(id).Next
}
