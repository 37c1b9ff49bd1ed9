package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout is the maximum time allowed for all health probes to
// complete. Probes still running at the deadline are reported unhealthy.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is a subsystem check exposed through GET /health. Each probe
// represents a dependency (database, listen connection, dlq sweeper) that
// must be operational for the daemon to do its job.
type HealthProbe interface {
	// Name returns the component key used in the health response.
	Name() string

	// Check performs the health check. It should respect the context
	// deadline and return an error when the subsystem is unhealthy.
	Check(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseProbe reports store connectivity via a pool ping.
type DatabaseProbe struct {
	Pool Pinger
}

func (p DatabaseProbe) Name() string { return "database" }

func (p DatabaseProbe) Check(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// FuncProbe adapts a named closure into a HealthProbe. Used for the retry
// daemon's Healthy flag and the listener's connectivity check.
type FuncProbe struct {
	ProbeName string
	CheckFn   func(ctx context.Context) error
}

func (p FuncProbe) Name() string { return p.ProbeName }

func (p FuncProbe) Check(ctx context.Context) error {
	return p.CheckFn(ctx)
}

// componentStatus represents the health state of a single subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the JSON body for the health endpoint.
type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleLivez is the static liveness endpoint: the process is up and serving.
func (s *Server) HandleLivez(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleHealth executes all registered probes concurrently with a shared
// deadline. Returns 200 when every probe reports healthy, 503 otherwise.
// Probes that miss the deadline are marked unhealthy rather than blocking
// the response.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.Probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	type probeResult struct {
		name string
		err  error
	}

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(s.Probes))
		wg      sync.WaitGroup
	)

	for _, probe := range s.Probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if rvr := recover(); rvr != nil {
						err = fmt.Errorf("probe panicked: %v", rvr)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results[p.Name()] = probeResult{name: p.Name(), err: err}
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Respond with whatever completed; the rest read as timed out.
	}

	mu.Lock()
	completed := make(map[string]probeResult, len(results))
	for k, v := range results {
		completed[k] = v
	}
	mu.Unlock()

	components := make(map[string]componentStatus, len(s.Probes))
	allHealthy := true

	for _, probe := range s.Probes {
		name := probe.Name()
		result, ok := completed[name]
		switch {
		case !ok:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case result.err != nil:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: result.err.Error()}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Components: components}
	if allHealthy {
		resp.Status = "healthy"
		JSON(w, r, http.StatusOK, resp)
		return
	}
	resp.Status = "unhealthy"
	JSON(w, r, http.StatusServiceUnavailable, resp)
}
