// Package jobs runs the scheduled batch work of the backend on a cron.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Schedule() string
	// Ready reports whether a tick should start a run; a job still busy
	// with the previous run skips the tick.
	Ready(now time.Time) bool
	Execute(ctx context.Context)
}

type Orchestrator struct {
	jobs []Job
	log  *zap.Logger
}

func NewOrchestrator(log *zap.Logger, jobs ...Job) *Orchestrator {
	return &Orchestrator{jobs: jobs, log: log}
}

// Start registers every job and starts the scheduler. Runs receive ctx, so
// cancelling it stops in-flight batches; the caller stops the cron.
func (o *Orchestrator) Start(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()

	for _, job := range o.jobs {
		job := job
		_, err := c.AddFunc(job.Schedule(), func() {
			if !job.Ready(time.Now()) {
				o.log.Debug("job still running, tick skipped", zap.String("job", job.Name()))
				return
			}
			go job.Execute(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("schedule job %s: %w", job.Name(), err)
		}
		o.log.Info("job scheduled", zap.String("job", job.Name()), zap.String("schedule", job.Schedule()))
	}

	c.Start()
	return c, nil
}
