package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/config"
)

func testCalendar() *config.ReleaseCalendar {
	return &config.ReleaseCalendar{Sources: map[string]config.SourceSchedule{
		"census_trade": {Frequency: "monthly", ReleaseDayOfMonth: 5, ReleaseLagMonths: 2},
		"usda_nass":    {Frequency: "weekly", DayOfWeek: 1, Hour: 16},
		"anec":         {Frequency: "weekly", CronExpression: "0 12 * * 5"},
	}}
}

func TestTargetPeriod(t *testing.T) {
	today := time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)

	year, month := TargetPeriod(today, 2)
	require.Equal(t, 2025, year)
	require.Equal(t, 6, month)

	// A lag that crosses the year boundary rolls back into the previous year.
	year, month = TargetPeriod(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 2)
	require.Equal(t, 2024, year)
	require.Equal(t, 11, month)
}

func TestNextRunMonthly(t *testing.T) {
	task := &ScheduledTask{Frequency: "monthly", DayOfMonth: 5, Hour: 0}

	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	next := nextRun(task, now)
	require.Equal(t, time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC), next)

	// Already past this month's release day: roll to next month.
	now = time.Date(2025, 8, 6, 0, 0, 0, 0, time.UTC)
	next = nextRun(task, now)
	require.Equal(t, time.Date(2025, 9, 5, 0, 0, 0, 0, time.UTC), next)
}

func TestNextRunWeekly(t *testing.T) {
	task := &ScheduledTask{Frequency: "weekly", DayOfWeek: 1, Hour: 16}

	// A Thursday: next Monday 16:00.
	now := time.Date(2025, 8, 14, 10, 0, 0, 0, time.UTC)
	next := nextRun(task, now)
	require.Equal(t, time.Weekday(1), next.Weekday())
	require.Equal(t, 16, next.Hour())
	require.True(t, next.After(now))
}

func TestCronExpressionOverridesFrequencyRule(t *testing.T) {
	s := New(testCalendar(), time.Minute, nil, nil)

	var anec ScheduledTask
	for _, task := range s.Tasks() {
		if task.Source == "anec" {
			anec = task
		}
	}
	require.NotEmpty(t, anec.Source)
	// "0 12 * * 5" fires Fridays at noon.
	require.Equal(t, time.Friday, anec.NextRun.Weekday())
	require.Equal(t, 12, anec.NextRun.Hour())
}

func TestExecuteAdvancesNextRunAndTracksFailures(t *testing.T) {
	runErrs := map[string]error{"census_trade": context.DeadlineExceeded}
	var mu sync.Mutex
	var ran []string
	run := func(ctx context.Context, source string, year, month int) error {
		mu.Lock()
		ran = append(ran, source)
		mu.Unlock()
		return runErrs[source]
	}

	s := New(testCalendar(), time.Minute, run, nil)

	require.Error(t, s.Trigger(context.Background(), "census_trade"))
	require.NoError(t, s.Trigger(context.Background(), "usda_nass"))
	require.Equal(t, []string{"census_trade", "usda_nass"}, ran)

	for _, task := range s.Tasks() {
		switch task.Source {
		case "census_trade":
			require.NotNil(t, task.LastRun)
			require.Nil(t, task.LastSuccess)
			require.Equal(t, 1, task.ConsecutiveFailures)
			require.True(t, task.NextRun.After(*task.LastRun), "next_run must advance past last_run")
		case "usda_nass":
			require.NotNil(t, task.LastSuccess)
			require.Equal(t, 0, task.ConsecutiveFailures)
			require.True(t, task.NextRun.After(*task.LastRun))
		}
	}
}

func TestTriggerUnknownSource(t *testing.T) {
	s := New(testCalendar(), time.Minute, nil, nil)
	require.Error(t, s.Trigger(context.Background(), "nope"))
}

func TestStartStopGraceful(t *testing.T) {
	s := New(testCalendar(), 10*time.Millisecond, nil, nil)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not exit after Stop")
	}
}
