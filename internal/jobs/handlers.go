package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"callcoin-platform/internal/apperr"
	"callcoin-platform/internal/calls"

	"github.com/hibiken/asynq"
)

type TickRunner interface {
	Tick(ctx context.Context, callID string, n int) error
}

type ConnectExpirer interface {
	ExpireConnecting(ctx context.Context, callID string) (calls.Call, error)
}

type Handlers struct {
	meter TickRunner
	calls ConnectExpirer
	log   *slog.Logger
}

func NewHandlers(meter TickRunner, calls ConnectExpirer, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{meter: meter, calls: calls, log: log}
}

// Register mounts every task handler on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskMeterTick, h.HandleTick)
	mux.HandleFunc(TaskCallConnectExpiry, h.HandleConnectTimeout)
}

func (h *Handlers) HandleTick(ctx context.Context, t *asynq.Task) error {
	var p TickPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.CallID == "" || p.Tick <= 0 {
		return fmt.Errorf("bad tick payload: %w", asynq.SkipRetry)
	}
	return h.result("tick", p.CallID, h.meter.Tick(ctx, p.CallID, p.Tick))
}

func (h *Handlers) HandleConnectTimeout(ctx context.Context, t *asynq.Task) error {
	var p ConnectTimeoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.CallID == "" {
		return fmt.Errorf("bad connect timeout payload: %w", asynq.SkipRetry)
	}
	_, err := h.calls.ExpireConnecting(ctx, p.CallID)
	return h.result("connect_timeout", p.CallID, err)
}

// result lets asynq retry transient failures only.
func (h *Handlers) result(task, callID string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.IsRetryable(err) {
		h.log.Warn("task failed; will retry", "task", task, "call_id", callID, "err", err)
		return err
	}
	h.log.Error("task failed permanently", "task", task, "call_id", callID, "err", err)
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}
