// Package health reports whether a searcher or indexer can serve: the index
// must open a snapshot, the storage backend must answer, and the optional
// query cache may be missing without taking the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

func (s Status) rank() int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check reports the state of one dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth is the outcome of one Check. Generation is set by index
// checks to the committed generation the snapshot observed.
type ComponentHealth struct {
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Latency    string `json:"latency,omitempty"`
}

// Report aggregates every component. Generation is the highest generation
// any index component reported.
type Report struct {
	Status     Status                     `json:"status"`
	Generation uint64                     `json:"generation,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// CheckTimeout bounds a readiness request.
const CheckTimeout = 5 * time.Second

type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check concurrently. The report takes the worst
// component status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make([]Check, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = c.checks[name]
	}
	c.mu.RUnlock()

	results := make([]ComponentHealth, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			r := check(ctx)
			r.Latency = time.Since(start).Round(time.Millisecond).String()
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i, name := range names {
		r := results[i]
		report.Components[name] = r
		if r.Status.rank() > report.Status.rank() {
			report.Status = r.Status
		}
		if r.Generation > report.Generation {
			report.Generation = r.Generation
		}
		if r.Status != StatusUp {
			c.logger.Warn("dependency unhealthy", "dependency", name, "status", r.Status, "message", r.Message)
		}
	}
	return report
}

// LiveHandler answers as long as the process can serve HTTP.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler runs every check. A degraded service still takes traffic;
// only a down component answers 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
