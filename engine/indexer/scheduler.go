package indexer

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/utakatik/utakatik/pkg/logger"
)

// Scheduler runs the reindexer on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron      *cron.Cron
	reindexer *Reindexer
}

// NewScheduler parses a standard five-field cron spec (or a descriptor such as "@hourly").
func NewScheduler(ctx context.Context, spec string, reindexer *Reindexer) (*Scheduler, error) {
	log := logger.FromContext(ctx)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log: log}),
		cron.SkipIfStillRunning(cronLogger{log: log}),
	))
	s := &Scheduler{cron: c, reindexer: reindexer}
	runCtx := context.WithoutCancel(ctx)
	if _, err := c.AddFunc(spec, func() { s.run(runCtx) }); err != nil {
		return nil, fmt.Errorf("indexer: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) run(ctx context.Context) {
	if _, err := s.reindexer.Reindex(ctx, 0); err != nil {
		logger.FromContext(ctx).Error("Scheduled reindex failed", "error", err)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running job, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
