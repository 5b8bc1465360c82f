package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetNextPendingOrdersByPriorityThenCreatedAt(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	low, err := q.AddTask(ctx, "low-priority", TypeScript, nil, 20, nil, nil, 3)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	high, err := q.AddTask(ctx, "high-priority", TypeScript, nil, 1, nil, nil, 3)
	require.NoError(t, err)

	next, err := q.GetNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, high.ID, next.ID)
	_ = low
}

func TestChildNeverStartsBeforeParentCompletes(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	parent, err := q.AddTask(ctx, "parent", TypeScript, nil, 10, nil, nil, 3)
	require.NoError(t, err)
	child, err := q.AddTask(ctx, "child", TypeScript, nil, 10, nil, &parent.ID, 3)
	require.NoError(t, err)

	next, err := q.GetNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, parent.ID, next.ID, "parent must be eligible, child must not")

	_, err = q.StartTask(ctx, child.ID)
	require.Error(t, err)

	_, err = q.StartTask(ctx, parent.ID)
	require.NoError(t, err)
	_, err = q.CompleteTask(ctx, parent.ID, nil)
	require.NoError(t, err)

	next, err = q.GetNextPending(ctx)
	require.NoError(t, err)
	require.Equal(t, child.ID, next.ID)

	_, err = q.StartTask(ctx, child.ID)
	require.NoError(t, err)
}

func TestFailTaskRetriesUntilMaxRetriesThenFails(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	task, err := q.AddTask(ctx, "flaky", TypeScript, nil, 10, nil, nil, 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := q.FailTask(ctx, task.ID, "boom", true)
		require.NoError(t, err)
		require.Equal(t, StatusPending, got.Status)
	}

	got, err := q.FailTask(ctx, task.ID, "boom", true)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, task.MaxRetries, got.RetryCount)
}

func TestHumanInputCycle(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	task, err := q.AddTask(ctx, "needs-approval", TypeHumanInput, nil, 10, nil, nil, 3)
	require.NoError(t, err)

	got, err := q.RequestHumanInput(ctx, task.ID, HumanInputRequest{Prompt: "approve?", Kind: "approval"})
	require.NoError(t, err)
	require.Equal(t, StatusWaitingForHuman, got.Status)

	got, err = q.ProvideHumanInput(ctx, task.ID, HumanInputResponse{Decision: "approved"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestScheduledForGatesEarliestStart(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	_, err := q.AddTask(ctx, "later", TypeScript, nil, 10, &future, nil, 3)
	require.NoError(t, err)

	next, err := q.GetNextPending(ctx)
	require.NoError(t, err)
	require.Nil(t, next)
}
