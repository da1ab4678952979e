// Package janitor runs the periodic cleanup jobs: expired notification
// purging and no-show session sweeps.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named cleanup task. Jobs get a bounded context and are
// expected to be idempotent; a failed run is retried on the next tick.
type Job struct {
	Name     string
	Schedule string // standard cron expression
	Run      func(ctx context.Context) error
}

const jobTimeout = 2 * time.Minute

type Janitor struct {
	cron *cron.Cron
	log  *slog.Logger
}

func New(log *slog.Logger) *Janitor {
	return &Janitor{
		cron: cron.New(),
		log:  log,
	}
}

// Add registers a job. Returns an error only for a bad schedule.
func (j *Janitor) Add(job Job) error {
	_, err := j.cron.AddFunc(job.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			j.log.Error("janitor: job failed", "job", job.Name, "err", err)
			return
		}
		j.log.Debug("janitor: job finished", "job", job.Name, "took", time.Since(start))
	})
	return err
}

func (j *Janitor) Start() {
	j.cron.Start()
	j.log.Info("janitor started")
}

// Stop waits for in-flight jobs before returning.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
