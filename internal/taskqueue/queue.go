package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue is the transactional task-queue contract.
// InMemoryQueue below is the reference implementation used by the
// tests; internal/store/postgres.TaskStore implements the same contract
// against the `tasks` table and is the one cmd/taskqueue uses.
type Queue interface {
	AddTask(ctx context.Context, name string, taskType TaskType, payload map[string]interface{}, priority int, scheduledFor *time.Time, parentTaskID *string, maxRetries int) (*Task, error)
	GetNextPending(ctx context.Context) (*Task, error)
	StartTask(ctx context.Context, id string) (*Task, error)
	CompleteTask(ctx context.Context, id string, result map[string]interface{}) (*Task, error)
	FailTask(ctx context.Context, id string, errMsg string, retry bool) (*Task, error)
	RequestHumanInput(ctx context.Context, id string, req HumanInputRequest) (*Task, error)
	ProvideHumanInput(ctx context.Context, id string, resp HumanInputResponse) (*Task, error)
	CancelTask(ctx context.Context, id string) (*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context) ([]Task, error)
}

// InMemoryQueue is a mutex-guarded Queue, the in-process reference
// implementation of the full Task state machine.
type InMemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewInMemoryQueue builds an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{tasks: make(map[string]*Task)}
}

func (q *InMemoryQueue) AddTask(ctx context.Context, name string, taskType TaskType, payload map[string]interface{}, priority int, scheduledFor *time.Time, parentTaskID *string, maxRetries int) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if priority == 0 {
		priority = 10
	}
	if maxRetries == 0 {
		maxRetries = 3
	}
	t := &Task{
		ID:           uuid.NewString(),
		Name:         name,
		TaskType:     taskType,
		Status:       StatusPending,
		Payload:      payload,
		Priority:     priority,
		MaxRetries:   maxRetries,
		CreatedAt:    time.Now().UTC(),
		ScheduledFor: scheduledFor,
		ParentTaskID: parentTaskID,
	}
	q.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

// GetNextPending returns the next PENDING task whose scheduled_for has
// elapsed and whose parent (if any) is COMPLETED, ordered by (priority
// asc, created_at asc). A child is never handed out before its parent
// completes.
func (q *InMemoryQueue) GetNextPending(ctx context.Context) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	candidates := make([]*Task, 0)
	for _, t := range q.tasks {
		if t.Status != StatusPending {
			continue
		}
		if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
			continue
		}
		if t.ParentTaskID != nil {
			parent, ok := q.tasks[*t.ParentTaskID]
			if !ok || parent.Status != StatusCompleted {
				continue
			}
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	cp := *candidates[0]
	return &cp, nil
}

func (q *InMemoryQueue) StartTask(ctx context.Context, id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("taskqueue: no task %q", id)
	}
	if t.ParentTaskID != nil {
		parent, ok := q.tasks[*t.ParentTaskID]
		if !ok || parent.Status != StatusCompleted {
			return nil, fmt.Errorf("taskqueue: task %q cannot start before parent %q completes", id, *t.ParentTaskID)
		}
	}
	now := time.Now().UTC()
	t.Status = StatusInProgress
	t.StartedAt = &now
	cp := *t
	return &cp, nil
}

func (q *InMemoryQueue) CompleteTask(ctx context.Context, id string, result map[string]interface{}) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("taskqueue: no task %q", id)
	}
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.Result = result
	t.CompletedAt = &now
	cp := *t
	return &cp, nil
}

// FailTask returns the task to PENDING with retry_count incremented when
// retry is requested and retry_count < max_retries; otherwise marks it
// FAILED permanently.
func (q *InMemoryQueue) FailTask(ctx context.Context, id string, errMsg string, retry bool) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("taskqueue: no task %q", id)
	}
	t.Error = errMsg
	if retry && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = StatusPending
		t.StartedAt = nil
	} else {
		now := time.Now().UTC()
		t.Status = StatusFailed
		t.CompletedAt = &now
	}
	cp := *t
	return &cp, nil
}

func (q *InMemoryQueue) RequestHumanInput(ctx context.Context, id string, req HumanInputRequest) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("taskqueue: no task %q", id)
	}
	t.Status = StatusWaitingForHuman
	t.HumanInputRequest = &req
	cp := *t
	return &cp, nil
}

// ProvideHumanInput cycles WAITING_FOR_HUMAN -> PENDING on response
//.
func (q *InMemoryQueue) ProvideHumanInput(ctx context.Context, id string, resp HumanInputResponse) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("taskqueue: no task %q", id)
	}
	if t.Status != StatusWaitingForHuman {
		return nil, fmt.Errorf("taskqueue: task %q is not waiting for human input (status %s)", id, t.Status)
	}
	t.HumanInputResponse = &resp
	t.Status = StatusPending
	cp := *t
	return &cp, nil
}

// CancelTask marks a PENDING task CANCELLED. CANCELLED is terminal and
// reachable only from PENDING.
func (q *InMemoryQueue) CancelTask(ctx context.Context, id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("taskqueue: no task %q", id)
	}
	if t.Status != StatusPending {
		return nil, fmt.Errorf("taskqueue: task %q cannot be cancelled from status %s", id, t.Status)
	}
	t.Status = StatusCancelled
	cp := *t
	return &cp, nil
}

func (q *InMemoryQueue) Get(ctx context.Context, id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("taskqueue: no task %q", id)
	}
	cp := *t
	return &cp, nil
}

func (q *InMemoryQueue) List(ctx context.Context) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
