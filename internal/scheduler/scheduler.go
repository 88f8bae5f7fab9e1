// Package scheduler triggers pipeline runs on a cron cadence.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/watchfolio/newsimpact/internal/model"
	"github.com/watchfolio/newsimpact/internal/pipeline"
)

// Trigger starts one pipeline run. Satisfied by *pipeline.Runner.
type Trigger interface {
	Run(ctx context.Context) (*model.RunSummary, error)
}

// Scheduler fires the pipeline on a cron expression. Ticks that land while a
// run is still in flight are skipped, never queued.
type Scheduler struct {
	cron   *cron.Cron
	runner Trigger
	spec   string
}

// New validates the cron expression and registers the trigger.
func New(runner Trigger, spec string) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, runner: runner, spec: spec}
	if _, err := c.AddFunc(spec, s.trigger); err != nil {
		return nil, eris.Wrapf(err, "scheduler: invalid cron expression %q", spec)
	}
	return s, nil
}

// Start begins firing on schedule in a background goroutine.
func (s *Scheduler) Start() {
	zap.L().Info("scheduler started", zap.String("cron", s.spec))
	s.cron.Start()
}

// Stop halts scheduling and returns a context that is done once any in-flight
// trigger has finished.
func (s *Scheduler) Stop() context.Context {
	zap.L().Info("scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) trigger() {
	summary, err := s.runner.Run(context.Background())
	switch {
	case err == nil:
		zap.L().Info("scheduled run finished",
			zap.String("run_id", summary.RunID),
			zap.Int("ingested", summary.Ingested),
			zap.Int("ai_ok", summary.AIOK),
			zap.Int("failed", summary.Failed),
		)
	case eris.Is(err, pipeline.ErrAlreadyRunning):
		zap.L().Info("scheduled run skipped, previous run still in progress")
	default:
		zap.L().Error("scheduled run failed", zap.Error(err))
	}
}
