// Package jobs schedules and runs delayed call work on asynq.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskMeterTick         = "meter:tick"
	TaskCallConnectExpiry = "call:connect_timeout"

	QueueMetering = "metering"
	QueueCalls    = "calls"
)

type TickPayload struct {
	CallID string `json:"call_id"`
	Tick   int    `json:"tick"`
}

type ConnectTimeoutPayload struct {
	CallID string `json:"call_id"`
}

// NewTickTask builds the task for unit n of callID due at at.
// The task id dedupes re-enqueues of the same unit.
func NewTickTask(callID string, n int, at time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(TickPayload{CallID: callID, Tick: n})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("tick:%s:%d", callID, n)),
		asynq.ProcessAt(at),
		asynq.Queue(QueueMetering),
		asynq.MaxRetry(5),
		asynq.Retention(time.Hour),
	}
	return asynq.NewTask(TaskMeterTick, b), opts, nil
}

func NewConnectTimeoutTask(callID string, at time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(ConnectTimeoutPayload{CallID: callID})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID("connect_timeout:" + callID),
		asynq.ProcessAt(at),
		asynq.Queue(QueueCalls),
		asynq.MaxRetry(3),
	}
	return asynq.NewTask(TaskCallConnectExpiry, b), opts, nil
}
