// Package taskqueue implements the orchestrator-of-orchestrators task
// queue: persistent Task records with priority, retries, parent
// dependencies and human-in-the-loop handoff, plus the executor that
// dispatches pending tasks to a compile-time handler registry.
package taskqueue

import (
	"time"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusWaitingForHuman Status = "WAITING_FOR_HUMAN"
	StatusCancelled       Status = "CANCELLED"
)

// TaskType enumerates the builtin executor routes.
type TaskType string

const (
	TypeScript         TaskType = "SCRIPT"
	TypeAIReasoning    TaskType = "AI_REASONING"
	TypeCodeGeneration TaskType = "CODE_GENERATION"
	TypeEmail          TaskType = "EMAIL"
	TypeHumanInput     TaskType = "HUMAN_INPUT"
	TypeDataCollection TaskType = "DATA_COLLECTION"
)

// HumanInputRequest is what a WAITING_FOR_HUMAN task presents to a human
// operator.
type HumanInputRequest struct {
	Prompt string
	Kind   string // e.g. "approval", "free_text", "code_review"
}

// HumanInputResponse is what provide_human_input supplies back.
type HumanInputResponse struct {
	Response string
	Decision string // e.g. "approved", "rejected"
	Notes    string
}

// Task is one queued unit of work.
type Task struct {
	ID          string
	Name        string
	TaskType    TaskType
	Status      Status
	Payload     map[string]interface{}
	Result      map[string]interface{}
	Error       string
	RetryCount  int
	MaxRetries  int
	Priority    int

	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ScheduledFor *time.Time
	ParentTaskID *string

	HumanInputRequest  *HumanInputRequest
	HumanInputResponse *HumanInputResponse
}

// ExecutionLog is written once per dispatch attempt.
type ExecutionLog struct {
	TaskID    string
	Started   time.Time
	Completed time.Time
	Success   bool
	Error     string
	Duration  time.Duration
	LogOutput string
}

// IsEligible reports whether t may be returned by get_next_pending:
// PENDING, scheduled_for has elapsed (or is unset), and (no parent, or
// parent is COMPLETED) — the parent-dependency invariant.
func (t Task) IsEligible(now time.Time, parentStatus Status, hasParent bool) bool {
	if t.Status != StatusPending {
		return false
	}
	if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
		return false
	}
	if hasParent && parentStatus != StatusCompleted {
		return false
	}
	return true
}
