package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harvestline/agriforecast/internal/logging"
	"github.com/harvestline/agriforecast/internal/security"
)

// Handler executes one task's payload and returns its result, or an
// error. Handlers are registered at init.
type Handler func(ctx context.Context, t Task) (map[string]interface{}, error)

// HandlerRegistry maps task_type -> Handler, a compile-time manifest in
// place of runtime plugin discovery.
type HandlerRegistry struct {
	handlers map[TaskType]Handler
}

// NewHandlerRegistry builds an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[TaskType]Handler)}
}

// Register adds a handler for a task type. Panics on duplicate
// registration, a programmer error caught at init time.
func (r *HandlerRegistry) Register(taskType TaskType, h Handler) {
	if _, exists := r.handlers[taskType]; exists {
		panic(fmt.Sprintf("taskqueue: handler already registered for %q", taskType))
	}
	r.handlers[taskType] = h
}

func (r *HandlerRegistry) lookup(taskType TaskType) (Handler, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

// Executor pulls tasks from a Queue, runs them through the Security
// Guard, then dispatches to the matching registered Handler.
type Executor struct {
	queue    Queue
	guard    *security.Guard
	registry *HandlerRegistry
	log      *logging.Logger

	stats Stats
}

// Stats tracks uptime and success counts for `status` output.
type Stats struct {
	StartedAt      time.Time
	TasksRun       int
	TasksSucceeded int
	TasksFailed    int
	TasksRejected  int
}

// NewExecutor builds an Executor. log may be nil.
func NewExecutor(queue Queue, guard *security.Guard, registry *HandlerRegistry, log *logging.Logger) *Executor {
	return &Executor{queue: queue, guard: guard, registry: registry, log: log, stats: Stats{StartedAt: time.Now().UTC()}}
}

// Stats returns a snapshot of the executor's run counters.
func (e *Executor) Stats() Stats { return e.stats }

// RunOnce pulls and dispatches a single pending task, if any. Returns
// (nil, nil) when the queue has nothing eligible to run.
func (e *Executor) RunOnce(ctx context.Context) (*ExecutionLog, error) {
	t, err := e.queue.GetNextPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("get next pending: %w", err)
	}
	if t == nil {
		return nil, nil
	}

	payloadJSON, err := json.Marshal(t.Payload)
	if err != nil {
		payloadJSON = []byte("{}")
	}

	verdict := e.guard.Check(string(t.TaskType), string(payloadJSON))
	if !verdict.Allowed {
		e.stats.TasksRejected++
		if _, failErr := e.queue.FailTask(ctx, t.ID, "security rejected: "+verdict.Reason, false); failErr != nil {
			return nil, failErr
		}
		if e.log != nil {
			e.log.WithField("task_id", t.ID).WithField("reason", verdict.Reason).Warn("task rejected by security guard")
		}
		return &ExecutionLog{
			TaskID:  t.ID,
			Started: time.Now().UTC(),
			Success: false,
			Error:   "security rejected: " + verdict.Reason,
		}, nil
	}

	started := time.Now().UTC()
	if _, err := e.queue.StartTask(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}
	e.stats.TasksRun++

	handler, ok := e.registry.lookup(t.TaskType)
	if !ok {
		e.stats.TasksFailed++
		_, _ = e.queue.FailTask(ctx, t.ID, fmt.Sprintf("no handler registered for task type %q", t.TaskType), false)
		return &ExecutionLog{TaskID: t.ID, Started: started, Completed: time.Now().UTC(), Success: false, Error: "no handler registered"}, nil
	}

	result, runErr := handler(ctx, *t)
	completed := time.Now().UTC()
	execLog := &ExecutionLog{
		TaskID:    t.ID,
		Started:   started,
		Completed: completed,
		Duration:  completed.Sub(started),
	}

	if runErr != nil {
		e.stats.TasksFailed++
		execLog.Success = false
		execLog.Error = runErr.Error()
		if _, err := e.queue.FailTask(ctx, t.ID, runErr.Error(), true); err != nil {
			return nil, err
		}
		return execLog, nil
	}

	e.stats.TasksSucceeded++
	execLog.Success = true
	if parked, _ := result["parked"].(bool); parked {
		// The handler moved the task to WAITING_FOR_HUMAN; leave it there.
		return execLog, nil
	}
	if _, err := e.queue.CompleteTask(ctx, t.ID, result); err != nil {
		return nil, err
	}
	return execLog, nil
}

// Run drives RunOnce in a loop at pollInterval until ctx is cancelled
//.
func (e *Executor) Run(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil && e.log != nil {
				e.log.WithError(err).Warn("executor run_once failed")
			}
		}
	}
}
