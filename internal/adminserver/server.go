// Package adminserver is the small ops-only HTTP surface the task-queue
// worker daemon mounts: liveness, Prometheus metrics, and a
// read-only view of task-queue state. It is diagnostics, not a domain
// API — nothing here is consumed by collectors or the forecasting
// pipeline itself.
package adminserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harvestline/agriforecast/internal/metrics"
)

// TaskSummary is the shape returned by /tasks and /tasks/{id}. Callers
// (cmd/taskqueue) supply a TaskLister implementation so this
// package never imports the task domain model directly.
type TaskSummary struct {
	ID         string     `json:"id"`
	TaskType   string     `json:"task_type"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TaskLister is implemented by cmd/taskqueue's queueLister adapter, which
// wraps internal/taskqueue.Queue.
type TaskLister interface {
	ListTasks(status string) ([]TaskSummary, error)
	GetTask(id string) (*TaskSummary, error)
}

// Server wraps a gorilla/mux router with the ops endpoints, with a
// route-template-aware metrics middleware for request accounting.
type Server struct {
	router *mux.Router
	lister TaskLister
	ready  func() bool
}

// New builds a Server. lister may be nil to expose only /healthz and
// /metrics (e.g. from the collector CLI, which has no task queue). m may
// be nil to skip self-instrumentation.
func New(lister TaskLister, ready func() bool, m *metrics.Metrics) *Server {
	s := &Server{router: mux.NewRouter(), lister: lister, ready: ready}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if lister != nil {
		s.router.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
		s.router.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	}
	if m != nil {
		s.router.Use(metricsMiddleware(m))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	tasks, err := s.lister.ListTasks(status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.lister.GetTask(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, task)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// responseWriter wraps http.ResponseWriter to capture the status code
// for the metrics middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func metricsMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			m.RecordHTTPRequest("adminserver"+path, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}
