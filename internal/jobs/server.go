package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
)

// NewServer builds the asynq worker server for call work.
func NewServer(redis asynq.RedisClientOpt, concurrency int, log *slog.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueMetering: 10,
			QueueCalls:    5,
		},
		Logger: slogAdapter{log: log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn("task error", "type", task.Type(), "retry", retried, "max_retry", maxRetry, "err", err)
		}),
	})
}

// NewMux returns a mux with every call task registered.
func NewMux(h *Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	h.Register(mux)
	return mux
}

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct{ log *slog.Logger }

func (a slogAdapter) Debug(args ...interface{}) { a.log.Debug(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Info(args ...interface{})  { a.log.Info(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Warn(args ...interface{})  { a.log.Warn(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Error(args ...interface{}) { a.log.Error(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Fatal(args ...interface{}) {
	a.log.Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}
