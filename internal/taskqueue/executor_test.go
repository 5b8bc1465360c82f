package taskqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/security"
)

func TestExecutorDispatchesToRegisteredHandler(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	_, err := q.AddTask(ctx, "greet", TypeScript, map[string]interface{}{
		"function": "greet",
		"args":     map[string]interface{}{"name": "world"},
	}, 10, nil, nil, 3)
	require.NoError(t, err)

	scripts := NewScriptRegistry()
	scripts.Register("greet", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"greeting": "hello " + args["name"].(string)}, nil
	})

	registry := NewHandlerRegistry()
	registry.Register(TypeScript, ScriptHandler(scripts))

	guard := security.NewGuard([]string{"/tmp"})
	exec := NewExecutor(q, guard, registry, nil)

	execLog, err := exec.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, execLog)
	require.True(t, execLog.Success)
	require.Equal(t, 1, exec.Stats().TasksSucceeded)
}

func TestExecutorRejectsBlocklistedPayload(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	task, err := q.AddTask(ctx, "dangerous", TypeScript, map[string]interface{}{
		"function": "noop",
		"args":     map[string]interface{}{"cmd": "rm -rf /data"},
	}, 10, nil, nil, 3)
	require.NoError(t, err)

	registry := NewHandlerRegistry()
	registry.Register(TypeScript, func(ctx context.Context, t Task) (map[string]interface{}, error) {
		t.Error = "should never run"
		return nil, nil
	})

	guard := security.NewGuard([]string{"/tmp"})
	exec := NewExecutor(q, guard, registry, nil)

	execLog, err := exec.RunOnce(ctx)
	require.NoError(t, err)
	require.False(t, execLog.Success)
	require.Equal(t, 1, exec.Stats().TasksRejected)

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 0, got.RetryCount, "security rejection is non-retryable")
}
