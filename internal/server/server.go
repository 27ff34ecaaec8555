// Package server is the HTTP processing service: it profiles uploads, asks
// the planner for plans and explanations, renders previews and packages
// processed batches.
//
// Endpoints (multipart/form-data in, JSON or binary out):
//
//	POST /generate-plan  file, user_goal      -> PlanResponse
//	POST /preview-image  file, plan           -> image/png
//	POST /explain-step   step, profile, goal  -> ExplainResponse
//	POST /apply-plan     files[], plan        -> application/zip
//	GET  /batches/{id}                        -> BatchResponse
//	GET  /health                              -> HealthResponse
//
// Every failure is {"detail": "..."}.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/store"
)

// MaxUploadBytes bounds a request body.
const MaxUploadBytes int64 = 50 << 20

// multipartMemory is how much of a form is held in memory before spilling to
// temporary files.
const multipartMemory = 32 << 20

// Planner proposes plans and explains steps. *planner.Planner satisfies it.
type Planner interface {
	PlanImage(ctx context.Context, profile any, goal string) api.GeneratedPlan
	Explain(ctx context.Context, step plan.Operation, profile json.RawMessage, goal string) string
	Model() string
}

// Archiver stores a packaged batch and returns a download link; Link
// re-signs the link for an earlier upload. *archive.Store satisfies it.
type Archiver interface {
	Upload(ctx context.Context, batchID string, bundle []byte) (string, error)
	Link(ctx context.Context, batchID string) (string, error)
}

// Config configures a Server.
type Config struct {
	Planner Planner
	// Archive is optional; when set, apply bundles are also uploaded.
	Archive Archiver
	// Batches is optional; when set, every packaged batch is recorded and
	// served from GET /batches/{id}.
	Batches store.BatchStore
	// Workers bounds parallel image processing in one apply request.
	// Zero means GOMAXPROCS.
	Workers int
	// Seed fixes the augmentation random source. Zero draws from the clock.
	Seed uint64
	// AllowedOrigins are exact CORS origins in addition to localhost.
	AllowedOrigins []string
}

// Server holds the handlers' dependencies.
type Server struct {
	planner Planner
	archive Archiver
	batches store.BatchStore
	workers int
	seed    uint64
	origins map[string]bool
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	return &Server{
		planner: cfg.Planner,
		archive: cfg.Archive,
		batches: cfg.Batches,
		workers: cfg.Workers,
		seed:    cfg.Seed,
		origins: origins,
	}
}

// Handler returns the routed handler wrapped with logging and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+api.PathGeneratePlan, s.handleGeneratePlan)
	mux.HandleFunc("POST "+api.PathPreview, s.handlePreview)
	mux.HandleFunc("POST "+api.PathExplain, s.handleExplain)
	mux.HandleFunc("POST "+api.PathApply, s.handleApply)
	mux.HandleFunc("GET "+api.PathBatches+"{id}", s.handleBatch)
	mux.HandleFunc("GET "+api.PathHealth, s.handleHealth)
	return withLogging(s.withCORS(mux))
}
