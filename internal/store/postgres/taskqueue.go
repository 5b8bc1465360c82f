package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harvestline/agriforecast/internal/taskqueue"
)

// TaskStore is the Postgres-backed implementation of taskqueue.Queue,
// used by every cmd/taskqueue command, including the long-running worker;
// internal/taskqueue.InMemoryQueue is the in-process reference the tests use.
type TaskStore struct {
	db *Store
}

var _ taskqueue.Queue = (*TaskStore)(nil)

// NewTaskStore wraps a Store for task-queue persistence.
func NewTaskStore(s *Store) *TaskStore {
	return &TaskStore{db: s}
}

func (t *TaskStore) AddTask(ctx context.Context, name string, taskType taskqueue.TaskType, payload map[string]interface{}, priority int, scheduledFor *time.Time, parentTaskID *string, maxRetries int) (*taskqueue.Task, error) {
	if priority == 0 {
		priority = 10
	}
	if maxRetries == 0 {
		maxRetries = 3
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = t.db.DB().ExecContext(ctx, `
		INSERT INTO tasks (id, name, task_type, status, priority, payload, max_retries, created_at, scheduled_for, parent_task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id, name, string(taskType), string(taskqueue.StatusPending), priority, payloadJSON, maxRetries, now, scheduledFor, parentTaskID)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return t.Get(ctx, id)
}

// GetNextPending selects the next eligible task with `FOR UPDATE SKIP
// LOCKED` so concurrent executors never race on the same row — the
// Postgres-native equivalent of InMemoryQueue's mutex.
func (t *TaskStore) GetNextPending(ctx context.Context) (*taskqueue.Task, error) {
	row := t.db.DB().QueryRowxContext(ctx, `
		SELECT t.id FROM tasks t
		LEFT JOIN tasks p ON p.id = t.parent_task_id
		WHERE t.status = 'PENDING'
		  AND (t.scheduled_for IS NULL OR t.scheduled_for <= now())
		  AND (t.parent_task_id IS NULL OR p.status = 'COMPLETED')
		ORDER BY t.priority ASC, t.created_at ASC
		LIMIT 1
		FOR UPDATE OF t SKIP LOCKED
	`)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select next pending task: %w", err)
	}
	return t.Get(ctx, id)
}

func (t *TaskStore) StartTask(ctx context.Context, id string) (*taskqueue.Task, error) {
	res, err := t.db.DB().ExecContext(ctx, `
		UPDATE tasks SET status = 'IN_PROGRESS', started_at = now()
		WHERE id = $1 AND status = 'PENDING'
		  AND (parent_task_id IS NULL OR parent_task_id IN (SELECT id FROM tasks WHERE status = 'COMPLETED'))
	`, id)
	if err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("taskqueue: task %q not eligible to start", id)
	}
	return t.Get(ctx, id)
}

func (t *TaskStore) CompleteTask(ctx context.Context, id string, result map[string]interface{}) (*taskqueue.Task, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	_, err = t.db.DB().ExecContext(ctx, `
		UPDATE tasks SET status = 'COMPLETED', result = $2, completed_at = now() WHERE id = $1
	`, id, resultJSON)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	return t.Get(ctx, id)
}

func (t *TaskStore) FailTask(ctx context.Context, id string, errMsg string, retry bool) (*taskqueue.Task, error) {
	existing, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	retryCount := existing.RetryCount

	if retry && retryCount < existing.MaxRetries {
		retryCount++
		_, err = t.db.DB().ExecContext(ctx, `
			UPDATE tasks SET status = 'PENDING', retry_count = $2, error = $3, started_at = NULL WHERE id = $1
		`, id, retryCount, errMsg)
	} else {
		_, err = t.db.DB().ExecContext(ctx, `
			UPDATE tasks SET status = 'FAILED', retry_count = $2, error = $3, completed_at = now() WHERE id = $1
		`, id, retryCount, errMsg)
	}
	if err != nil {
		return nil, fmt.Errorf("fail task: %w", err)
	}
	return t.Get(ctx, id)
}

func (t *TaskStore) RequestHumanInput(ctx context.Context, id string, req taskqueue.HumanInputRequest) (*taskqueue.Task, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal human input request: %w", err)
	}
	_, err = t.db.DB().ExecContext(ctx, `
		UPDATE tasks SET status = 'WAITING_FOR_HUMAN', human_input_request = $2 WHERE id = $1
	`, id, reqJSON)
	if err != nil {
		return nil, fmt.Errorf("request human input: %w", err)
	}
	return t.Get(ctx, id)
}

func (t *TaskStore) ProvideHumanInput(ctx context.Context, id string, resp taskqueue.HumanInputResponse) (*taskqueue.Task, error) {
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal human input response: %w", err)
	}
	res, err := t.db.DB().ExecContext(ctx, `
		UPDATE tasks SET status = 'PENDING', human_input_response = $2
		WHERE id = $1 AND status = 'WAITING_FOR_HUMAN'
	`, id, respJSON)
	if err != nil {
		return nil, fmt.Errorf("provide human input: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("taskqueue: task %q is not waiting for human input", id)
	}
	return t.Get(ctx, id)
}

func (t *TaskStore) CancelTask(ctx context.Context, id string) (*taskqueue.Task, error) {
	res, err := t.db.DB().ExecContext(ctx, `
		UPDATE tasks SET status = 'CANCELLED' WHERE id = $1 AND status = 'PENDING'
	`, id)
	if err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("taskqueue: task %q cannot be cancelled", id)
	}
	return t.Get(ctx, id)
}

type taskRow struct {
	ID                 string          `db:"id"`
	Name               string          `db:"name"`
	TaskType           string          `db:"task_type"`
	Status             string          `db:"status"`
	Priority           int             `db:"priority"`
	Payload            json.RawMessage `db:"payload"`
	Result             json.RawMessage `db:"result"`
	Error              sql.NullString  `db:"error"`
	RetryCount         int             `db:"retry_count"`
	MaxRetries         int             `db:"max_retries"`
	CreatedAt          time.Time       `db:"created_at"`
	StartedAt          sql.NullTime    `db:"started_at"`
	CompletedAt        sql.NullTime    `db:"completed_at"`
	ScheduledFor       sql.NullTime    `db:"scheduled_for"`
	ParentTaskID       sql.NullString  `db:"parent_task_id"`
	HumanInputRequest  json.RawMessage `db:"human_input_request"`
	HumanInputResponse json.RawMessage `db:"human_input_response"`
}

func (t *TaskStore) Get(ctx context.Context, id string) (*taskqueue.Task, error) {
	var row taskRow
	if err := t.db.DB().GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return rowToTask(row)
}

func (t *TaskStore) List(ctx context.Context) ([]taskqueue.Task, error) {
	var rows []taskRow
	if err := t.db.DB().SelectContext(ctx, &rows, `SELECT * FROM tasks ORDER BY created_at ASC`); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]taskqueue.Task, 0, len(rows))
	for _, r := range rows {
		task, err := rowToTask(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, nil
}

func rowToTask(row taskRow) (*taskqueue.Task, error) {
	task := &taskqueue.Task{
		ID:         row.ID,
		Name:       row.Name,
		TaskType:   taskqueue.TaskType(row.TaskType),
		Status:     taskqueue.Status(row.Status),
		Priority:   row.Priority,
		RetryCount: row.RetryCount,
		MaxRetries: row.MaxRetries,
		CreatedAt:  row.CreatedAt,
	}
	if row.Error.Valid {
		task.Error = row.Error.String
	}
	if row.StartedAt.Valid {
		task.StartedAt = &row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		task.CompletedAt = &row.CompletedAt.Time
	}
	if row.ScheduledFor.Valid {
		task.ScheduledFor = &row.ScheduledFor.Time
	}
	if row.ParentTaskID.Valid {
		task.ParentTaskID = &row.ParentTaskID.String
	}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(row.Result) > 0 {
		if err := json.Unmarshal(row.Result, &task.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(row.HumanInputRequest) > 0 {
		var req taskqueue.HumanInputRequest
		if err := json.Unmarshal(row.HumanInputRequest, &req); err != nil {
			return nil, fmt.Errorf("unmarshal human input request: %w", err)
		}
		task.HumanInputRequest = &req
	}
	if len(row.HumanInputResponse) > 0 {
		var resp taskqueue.HumanInputResponse
		if err := json.Unmarshal(row.HumanInputResponse, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal human input response: %w", err)
		}
		task.HumanInputResponse = &resp
	}
	return task, nil
}

// SaveExecutionLog appends one dispatch attempt's record to
// execution_logs.
func (t *TaskStore) SaveExecutionLog(ctx context.Context, l taskqueue.ExecutionLog) error {
	_, err := t.db.DB().ExecContext(ctx, `
		INSERT INTO execution_logs (task_id, started, completed, success, error, duration_seconds, log_output)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, l.TaskID, l.Started, l.Completed, l.Success, l.Error, l.Duration.Seconds(), l.LogOutput)
	if err != nil {
		return fmt.Errorf("save execution log for %s: %w", l.TaskID, err)
	}
	return nil
}
