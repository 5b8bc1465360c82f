// Package main is the task-queue CLI and worker daemon.
//
// Usage:
//
//	taskqueue submit "<description>" [--priority N] [--type SCRIPT]
//	taskqueue list
//	taskqueue view <id>
//	taskqueue respond <id> "<response>" [--decision approve|reject]
//	taskqueue worker [--poll 1s]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harvestline/agriforecast/internal/adminserver"
	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/logging"
	"github.com/harvestline/agriforecast/internal/metrics"
	"github.com/harvestline/agriforecast/internal/platform/database"
	"github.com/harvestline/agriforecast/internal/platform/migrations"
	"github.com/harvestline/agriforecast/internal/security"
	"github.com/harvestline/agriforecast/internal/store/postgres"
	"github.com/harvestline/agriforecast/internal/taskqueue"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	switch os.Args[1] {
	case "submit":
		runErr = cmdSubmit(ctx, app, os.Args[2:])
	case "list", "--list":
		runErr = cmdList(ctx, app)
	case "view", "--view":
		runErr = cmdView(ctx, app, os.Args[2:])
	case "respond":
		runErr = cmdRespond(ctx, app, os.Args[2:])
	case "worker":
		runErr = cmdWorker(ctx, app, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: taskqueue <submit|list|view|respond|worker> [flags]")
}

type app struct {
	cfg   *config.Config
	log   *logging.Logger
	queue taskqueue.Queue
	guard *security.Guard
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New("taskqueue", cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(ctx, database.Config{
		DSN:            cfg.DatabaseURL,
		MaxConnections: cfg.DBMaxConnections,
		IdleTimeout:    cfg.DBIdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := migrations.Apply(db.DB); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &app{
		cfg:   cfg,
		log:   log,
		queue: postgres.NewTaskStore(postgres.New(db)),
		guard: security.NewGuard(cfg.TaskQueueDataRoots),
	}, nil
}

func cmdSubmit(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return fmt.Errorf("submit requires a task description")
	}
	description := args[0]

	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	priority := fs.Int("priority", 10, "task priority (lower runs first)")
	taskType := fs.String("type", string(taskqueue.TypeScript), "task type")
	scheduledFor := fs.String("scheduled-for", "", "RFC3339 earliest-start time")
	parent := fs.String("parent", "", "parent task id")
	_ = fs.Parse(args[1:])

	var schedAt *time.Time
	if *scheduledFor != "" {
		t, err := time.Parse(time.RFC3339, *scheduledFor)
		if err != nil {
			return fmt.Errorf("invalid --scheduled-for: %w", err)
		}
		schedAt = &t
	}
	var parentID *string
	if *parent != "" {
		parentID = parent
	}

	task, err := a.queue.AddTask(ctx, description, taskqueue.TaskType(*taskType),
		map[string]interface{}{"description": description},
		*priority, schedAt, parentID, a.cfg.TaskQueueMaxRetries)
	if err != nil {
		return err
	}
	fmt.Printf("submitted %s (priority %d)\n", task.ID, task.Priority)
	return nil
}

func cmdList(ctx context.Context, a *app) error {
	tasks, err := a.queue.List(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("%-36s %-18s p=%-3d retries=%d/%d  %s\n",
			t.ID, t.Status, t.Priority, t.RetryCount, t.MaxRetries, t.Name)
	}
	return nil
}

func cmdView(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("view requires a task id")
	}
	task, err := a.queue.Get(ctx, args[0])
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func cmdRespond(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("respond requires a task id and a response")
	}
	id, response := args[0], args[1]

	fs := flag.NewFlagSet("respond", flag.ExitOnError)
	decision := fs.String("decision", "", "approve|reject")
	notes := fs.String("notes", "", "reviewer notes")
	_ = fs.Parse(args[2:])

	task, err := a.queue.ProvideHumanInput(ctx, id, taskqueue.HumanInputResponse{
		Response: response,
		Decision: *decision,
		Notes:    *notes,
	})
	if err != nil {
		return err
	}
	fmt.Printf("task %s is now %s\n", task.ID, task.Status)
	return nil
}

// loggingEmailSender satisfies the EMAIL route without a real transport:
// notification transports are external collaborators, so the builtin
// sender just records the send in the structured log.
type loggingEmailSender struct{ log *logging.Logger }

func (s loggingEmailSender) Send(ctx context.Context, to, subject, body string) error {
	s.log.WithField("to", to).WithField("subject", subject).Info("email handed off to transport")
	return nil
}

func cmdWorker(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	poll := fs.Duration("poll", time.Second, "queue poll interval")
	_ = fs.Parse(args)

	scripts := taskqueue.NewScriptRegistry()
	scripts.Register("echo", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return args, nil
	})

	registry := taskqueue.NewHandlerRegistry()
	registry.Register(taskqueue.TypeScript, taskqueue.ScriptHandler(scripts))
	registry.Register(taskqueue.TypeEmail, taskqueue.EmailHandler(loggingEmailSender{log: a.log}))
	registry.Register(taskqueue.TypeHumanInput, taskqueue.HumanInputHandler(a.queue))

	executor := taskqueue.NewExecutor(a.queue, a.guard, registry, a.log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.AdminServerEnabled {
		var m *metrics.Metrics
		if a.cfg.MetricsEnabled {
			m = metrics.New(prometheus.DefaultRegisterer)
		}
		srv := &http.Server{
			Addr:    ":" + strconv.Itoa(a.cfg.AdminServerPort),
			Handler: adminserver.New(queueLister{a.queue}, func() bool { return true }, m),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.WithError(err).Error("admin server failed")
			}
		}()
		defer srv.Shutdown(context.Background())
		a.log.WithField("port", a.cfg.AdminServerPort).Info("admin server listening")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.log.Info("shutting down worker")
		cancel()
	}()

	execStore, persistLogs := a.queue.(*postgres.TaskStore)

	a.log.Info("worker started")
	ticker := time.NewTicker(*poll)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			execLog, err := executor.RunOnce(runCtx)
			if err != nil {
				a.log.WithError(err).Warn("executor run_once failed")
				continue
			}
			if execLog == nil {
				continue
			}
			if persistLogs {
				if err := execStore.SaveExecutionLog(runCtx, *execLog); err != nil {
					a.log.WithError(err).WithField("task_id", execLog.TaskID).Warn("save execution log failed")
				}
			}
		}
	}

	stats := executor.Stats()
	fmt.Printf("worker stopped: ran=%d succeeded=%d failed=%d rejected=%d uptime=%s\n",
		stats.TasksRun, stats.TasksSucceeded, stats.TasksFailed, stats.TasksRejected,
		time.Since(stats.StartedAt).Round(time.Second))
	return nil
}

// queueLister adapts taskqueue.Queue to the admin server's read-only
// task listing.
type queueLister struct{ queue taskqueue.Queue }

func summarize(t taskqueue.Task) adminserver.TaskSummary {
	s := adminserver.TaskSummary{
		ID:         t.ID,
		TaskType:   string(t.TaskType),
		Status:     string(t.Status),
		RetryCount: t.RetryCount,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.CreatedAt,
	}
	if t.CompletedAt != nil {
		s.UpdatedAt = *t.CompletedAt
	} else if t.StartedAt != nil {
		s.UpdatedAt = *t.StartedAt
	}
	return s
}

func (q queueLister) ListTasks(status string) ([]adminserver.TaskSummary, error) {
	tasks, err := q.queue.List(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]adminserver.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		if status != "" && string(t.Status) != status {
			continue
		}
		out = append(out, summarize(t))
	}
	return out, nil
}

func (q queueLister) GetTask(id string) (*adminserver.TaskSummary, error) {
	t, err := q.queue.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	s := summarize(*t)
	return &s, nil
}
