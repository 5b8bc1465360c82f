// Package scheduler implements the release-calendar-aware scheduler:
// it decides which period of a source to fetch on which date, and runs
// a ticker-driven control loop that fires due ScheduledTasks.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/logging"
)

// ScheduledTask is one source's scheduling state.
type ScheduledTask struct {
	TaskID              string
	Source              string
	Frequency           string
	DayOfMonth          int
	DayOfWeek           int
	Hour                int
	ReleaseLagMonths    int
	Enabled             bool
	LastRun             *time.Time
	LastSuccess         *time.Time
	NextRun             time.Time
	ConsecutiveFailures int

	// cronSched overrides the frequency rule when the release calendar
	// declares an explicit cron_expression (e.g. the ANEC Friday-noon
	// bulletin).
	cronSched cron.Schedule
}

// RunFunc executes one source's collector run for a target period and
// reports success. Wired to collector.Run by the caller composing the
// scheduler with the collector registry.
type RunFunc func(ctx context.Context, source string, targetYear, targetMonth int) error

// Scheduler holds the set of ScheduledTasks derived from the release
// calendar and drives the control loop.
type Scheduler struct {
	mu            sync.Mutex
	tasks         map[string]*ScheduledTask
	checkInterval time.Duration
	run           RunFunc
	log           *logging.Logger
	stopCh        chan struct{}
	stopped       chan struct{}
}

// New builds a Scheduler from a release calendar, deriving one
// ScheduledTask per declared source.
func New(calendar *config.ReleaseCalendar, checkInterval time.Duration, run RunFunc, log *logging.Logger) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = 60 * time.Second
	}
	s := &Scheduler{
		tasks:         make(map[string]*ScheduledTask),
		checkInterval: checkInterval,
		run:           run,
		log:           log,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	now := time.Now().UTC()
	for source, sched := range calendar.Sources {
		t := &ScheduledTask{
			TaskID:           fmt.Sprintf("sched-%s", source),
			Source:           source,
			Frequency:        sched.Frequency,
			DayOfMonth:       sched.ReleaseDayOfMonth,
			DayOfWeek:        sched.DayOfWeek,
			Hour:             sched.Hour,
			ReleaseLagMonths: sched.ReleaseLagMonths,
			Enabled:          true,
		}
		if sched.CronExpression != "" {
			parsed, err := cron.ParseStandard(sched.CronExpression)
			if err != nil {
				if log != nil {
					log.WithField("source", source).WithError(err).Warn("invalid cron_expression, falling back to frequency rule")
				}
			} else {
				t.cronSched = parsed
			}
		}
		t.NextRun = nextRun(t, now)
		s.tasks[source] = t
	}
	return s
}

// TargetPeriod derives which (year, month) a monthly source's next run
// should fetch: target = today - release_lag_months.
func TargetPeriod(today time.Time, releaseLagMonths int) (year int, month int) {
	t := today.AddDate(0, -releaseLagMonths, 0)
	return t.Year(), int(t.Month())
}

// TargetISOWeek derives the (ISO year, ISO week) a weekly lineup report
// targets: the ISO week that contains today.
func TargetISOWeek(today time.Time) (year int, week int) {
	return today.ISOWeek()
}

// nextRun computes the next scheduled fire time for a task from its
// frequency rule, relative to "now".
func nextRun(t *ScheduledTask, now time.Time) time.Time {
	if t.cronSched != nil {
		return t.cronSched.Next(now)
	}
	switch t.Frequency {
	case "monthly":
		candidate := time.Date(now.Year(), now.Month(), clampDay(t.DayOfMonth), t.Hour, 0, 0, 0, time.UTC)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 1, 0)
			candidate = time.Date(candidate.Year(), candidate.Month(), clampDay(t.DayOfMonth), t.Hour, 0, 0, 0, time.UTC)
		}
		return candidate
	case "weekly":
		return nextWeekday(now, time.Weekday(t.DayOfWeek), t.Hour)
	case "daily":
		candidate := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, 0, 0, 0, time.UTC)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate
	case "quarterly":
		candidate := time.Date(now.Year(), now.Month(), clampDay(t.DayOfMonth), t.Hour, 0, 0, 0, time.UTC)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 3, 0)
		}
		return candidate
	case "annual":
		candidate := time.Date(now.Year(), now.Month(), clampDay(t.DayOfMonth), t.Hour, 0, 0, 0, time.UTC)
		if !candidate.After(now) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate
	default: // realtime
		return now.Add(time.Minute)
	}
}

func clampDay(d int) int {
	if d < 1 || d > 28 {
		return 1
	}
	return d
}

func nextWeekday(now time.Time, weekday time.Weekday, hour int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	for candidate.Weekday() != weekday || !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), hour, 0, 0, 0, time.UTC)
	}
	return candidate
}

// Tasks returns a sorted snapshot of every ScheduledTask, for `schedule
// --list`.
func (s *Scheduler) Tasks() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Trigger fires one source's task immediately, bypassing next_run, for
// `schedule --trigger <source>`.
func (s *Scheduler) Trigger(ctx context.Context, source string) error {
	s.mu.Lock()
	t, ok := s.tasks[source]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: no scheduled task for source %q", source)
	}
	return s.execute(ctx, t)
}

// Start runs the control loop: at checkInterval, collect enabled tasks
// whose next_run <= now, run each in order, log outcomes, recompute
// next_run.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkAndRun(ctx)
		}
	}
}

// Stop requests the control loop exit, letting any in-flight task
// finish. It blocks until the loop has exited.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stopped
}

func (s *Scheduler) checkAndRun(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*ScheduledTask, 0)
	for _, t := range s.tasks {
		if t.Enabled && !t.NextRun.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Source < due[j].Source })
	s.mu.Unlock()

	for _, t := range due {
		if err := s.execute(ctx, t); err != nil && s.log != nil {
			s.log.WithField("source", t.Source).WithError(err).Warn("scheduled run failed")
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t *ScheduledTask) error {
	now := time.Now().UTC()
	year, month := TargetPeriod(now, t.ReleaseLagMonths)

	var runErr error
	if s.run != nil {
		runErr = s.run(ctx, t.Source, year, month)
	}

	s.mu.Lock()
	t.LastRun = &now
	if runErr == nil {
		t.LastSuccess = &now
		t.ConsecutiveFailures = 0
	} else {
		t.ConsecutiveFailures++
	}
	t.NextRun = nextRun(t, now)
	s.mu.Unlock()

	return runErr
}
