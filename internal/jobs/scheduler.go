package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callcoin-platform/internal/apperr"

	"github.com/hibiken/asynq"
)

var ErrSchedulerUnavailable = apperr.New(apperr.ErrDependencyUnavailable, "job scheduler unavailable")

// Scheduler enqueues call work on asynq.
type Scheduler struct {
	client *asynq.Client
	log    *slog.Logger
}

func NewScheduler(client *asynq.Client, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{client: client, log: log}
}

func (s *Scheduler) ScheduleTick(ctx context.Context, callID string, n int, at time.Time) error {
	task, opts, err := NewTickTask(callID, n, at)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task, opts)
}

func (s *Scheduler) ScheduleConnectTimeout(ctx context.Context, callID string, at time.Time) error {
	task, opts, err := NewConnectTimeoutTask(callID, at)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task, opts)
}

func (s *Scheduler) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option) error {
	info, err := s.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Already scheduled.
		return nil
	}
	if err != nil {
		return errors.Join(ErrSchedulerUnavailable, err)
	}
	s.log.Debug("task scheduled", "type", task.Type(), "id", info.ID, "queue", info.Queue, "process_at", info.NextProcessAt)
	return nil
}

// NoopScheduler is used when no Redis is configured. Every call reports the
// scheduler as unavailable so callers fall back to the reaper.
type NoopScheduler struct{}

func (NoopScheduler) ScheduleTick(context.Context, string, int, time.Time) error {
	return ErrSchedulerUnavailable
}

func (NoopScheduler) ScheduleConnectTimeout(context.Context, string, time.Time) error {
	return ErrSchedulerUnavailable
}
