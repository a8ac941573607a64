// Package diagnostics exposes a read-only HTTP server over a workspace's
// execution graph and runtime metrics: the operator-facing surface for
// inspecting what a build would do or has done, without being able to
// trigger one.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/manila-build/manila/internal/graph"
	"github.com/manila-build/manila/internal/metrics"
	"github.com/manila-build/manila/internal/model"
	"github.com/manila-build/manila/internal/tracing"
)

// Server is the diagnostics HTTP server: chi router plus graceful
// shutdown, the same shape as the engine's other long-lived listeners.
type Server struct {
	router  chi.Router
	addr    string
	httpSrv *http.Server
}

// NewServer builds a Server bound to addr, serving introspection over g
// and collector. If tracingEnabled is true, requests carry OpenTelemetry
// spans like every other HTTP surface in the process.
func NewServer(g *graph.Graph, collector *metrics.Collector, addr string, tracingEnabled bool) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Get("/health", handleHealth)
	r.Get("/graph/mermaid", handleMermaid(g))
	r.Get("/jobs", handleJobs(g))
	r.Get("/metrics", metrics.PrometheusHandler(collector).ServeHTTP)
	r.Get("/stats", handleStats(collector))

	return &Server{
		router: r,
		addr:   addr,
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Router returns the underlying chi.Router, for tests that want to drive
// requests without binding a real listener.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening. It blocks until Shutdown is called or a fatal
// error occurs.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("diagnostics server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleMermaid renders the execution graph in Mermaid flowchart syntax,
// suitable for pasting straight into a doc or a mermaid.live preview.
func handleMermaid(g *graph.Graph) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(g.ToMermaid()))
	}
}

// jobSummary is the JSON projection of a graph node for /jobs.
type jobSummary struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Blocking  bool     `json:"blocking"`
	Ancestors []string `json:"ancestors"`
}

// handleJobs lists every executable node currently attached to the
// graph, sorted by identifier for a stable response.
func handleJobs(g *graph.Graph) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes := g.Nodes()
		summaries := make([]jobSummary, 0, len(nodes))
		for _, n := range nodes {
			deps := make([]string, 0, len(n.Parents))
			for id := range n.Parents {
				deps = append(deps, id)
			}
			sort.Strings(deps)
			summaries = append(summaries, jobSummary{
				ID:        n.ID,
				Kind:      executableKindName(n.Executable.Kind),
				Blocking:  n.Executable.IsBlocking(),
				Ancestors: deps,
			})
		}
		sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summaries)
	}
}

func handleStats(collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.Stats())
	}
}

func executableKindName(k model.ExecutableKind) string {
	switch k {
	case model.ExecutableJob:
		return "job"
	case model.ExecutableArtifactBuild:
		return "artifact_build"
	case model.ExecutableNoOp:
		return "no_op"
	default:
		return "unknown"
	}
}
