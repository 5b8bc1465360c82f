package postgres

import (
	"context"
	"fmt"
	"time"
)

// RunState is one source's collector_run_state row.
type RunState struct {
	SourceName          string     `db:"source_name"`
	LastRun             *time.Time `db:"last_run"`
	LastSuccess         *time.Time `db:"last_success"`
	ConsecutiveFailures int        `db:"consecutive_failures"`
	RequestCount        int64      `db:"request_count"`
}

// IsHealthy applies the health rule.
func (r RunState) IsHealthy() bool { return r.ConsecutiveFailures < 3 }

// RecordRun updates a source's run state after one collector run.
// Success resets consecutive_failures and stamps last_success; failure
// increments the counter. requestCount accumulates.
func (s *Store) RecordRun(ctx context.Context, sourceName string, success bool, requests int64) error {
	now := time.Now().UTC()

	var query string
	if success {
		query = `
			INSERT INTO collector_run_state (source_name, last_run, last_success, consecutive_failures, request_count)
			VALUES ($1, $2, $2, 0, $3)
			ON CONFLICT (source_name) DO UPDATE SET
				last_run = EXCLUDED.last_run,
				last_success = EXCLUDED.last_success,
				consecutive_failures = 0,
				request_count = collector_run_state.request_count + EXCLUDED.request_count
		`
	} else {
		query = `
			INSERT INTO collector_run_state (source_name, last_run, consecutive_failures, request_count)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (source_name) DO UPDATE SET
				last_run = EXCLUDED.last_run,
				consecutive_failures = collector_run_state.consecutive_failures + 1,
				request_count = collector_run_state.request_count + EXCLUDED.request_count
		`
	}

	if _, err := s.db.ExecContext(ctx, query, sourceName, now, requests); err != nil {
		return fmt.Errorf("record run state for %s: %w", sourceName, err)
	}
	return nil
}

// RunStates returns every source's run state, sorted by source name, for
// the `status` CLI surface.
func (s *Store) RunStates(ctx context.Context) ([]RunState, error) {
	var out []RunState
	err := s.db.SelectContext(ctx, &out, `
		SELECT source_name, last_run, last_success, consecutive_failures, request_count
		FROM collector_run_state ORDER BY source_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list run states: %w", err)
	}
	return out, nil
}
