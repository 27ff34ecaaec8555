// Package engine wires the plan store, debounce, preview pipeline, and
// explanation synchronizer into one editing session against a processing
// service.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/debounce"
	"github.com/fpang/prism/internal/explain"
	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/preview"
	"github.com/fpang/prism/internal/queue"
	"github.com/fpang/prism/internal/remote"
	"github.com/fpang/prism/internal/source"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("engine: session closed")

// ErrNoSource is returned when an operation needs a selected source.
var ErrNoSource = errors.New("engine: no source selected")

// Service is the processing service as seen by a session. *remote.Client
// satisfies it.
type Service interface {
	GeneratePlan(ctx context.Context, src source.File, goal string) (*api.PlanResponse, error)
	Preview(ctx context.Context, src source.File, snap plan.Snapshot) ([]byte, error)
	Explain(ctx context.Context, req explain.Request) (string, error)
	Apply(ctx context.Context, files []source.File, snap plan.Snapshot, w io.Writer) (*remote.ApplyResult, error)
}

// Config configures a Session. Zero values take defaults.
type Config struct {
	Service Service
	// Debounce is the quiet period before a plan change is previewed.
	Debounce time.Duration
	// Concurrency bounds parallel service requests.
	Concurrency int
	// ErrorBuffer is the capacity of the Errors channel.
	ErrorBuffer int
	// OnPreview is called after each applied preview.
	OnPreview func(preview.Result)
}

const (
	defaultConcurrency = 4
	defaultErrorBuffer = 16
)

// Session is one user's editing session.
type Session struct {
	service   Service
	store     *plan.Store
	queue     *queue.Queue[any]
	manager   *preview.Manager
	pipeline  *preview.Pipeline
	coalescer *debounce.Coalescer[plan.Snapshot]
	explainer *explain.Synchronizer
	onPreview func(preview.Result)

	unsubscribe func()
	errs        chan error

	mu        sync.Mutex
	src       source.File
	srcGen    uint64
	hasSource bool
	generated bool
	goal      string
	response  *api.PlanResponse
	closed    bool
}

// New returns a session with no source selected.
func New(cfg Config) *Session {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = defaultErrorBuffer
	}

	s := &Session{
		service:   cfg.Service,
		store:     plan.NewStore(),
		queue:     queue.New[any](queue.WithConcurrency(cfg.Concurrency)),
		manager:   preview.NewManager(),
		onPreview: cfg.OnPreview,
		errs:      make(chan error, cfg.ErrorBuffer),
	}
	s.pipeline = preview.NewPipeline(preview.PipelineConfig{
		Renderer: preview.FromPreviewer(cfg.Service),
		Manager:  s.manager,
		Queue:    s.queue,
		OnError:  s.report,
		OnResult: s.previewed,
	})
	s.coalescer = debounce.New(cfg.Debounce, func(snap plan.Snapshot) { s.pipeline.Submit(snap) })
	s.explainer = explain.New(s.store, cfg.Service, explain.Options{
		Queue:       s.queue,
		Concurrency: cfg.Concurrency,
	})
	s.unsubscribe = s.store.Subscribe(s.planChanged)
	return s
}

// planChanged feeds the preview pipeline once a plan has been generated for
// an image source.
func (s *Session) planChanged(snap plan.Snapshot) {
	s.mu.Lock()
	feeds := !s.closed && s.hasSource && s.generated && s.src.IsImage()
	s.mu.Unlock()
	if feeds {
		s.coalescer.Notify(snap)
	}
}

func (s *Session) previewed(r preview.Result) {
	if s.onPreview != nil {
		s.onPreview(r)
	}
}

// report surfaces a preview failure without blocking. Errors are dropped
// when the channel is full or the session is closed.
func (s *Session) report(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errs <- err:
	default:
		log.Warn().Err(err).Msg("Error channel full, dropping preview error")
	}
}

// Errors delivers preview failures. It is closed by Close.
func (s *Session) Errors() <-chan error { return s.errs }

// SelectSource starts over with file: the plan is emptied, pending work is
// canceled, and the original is displayed. It returns the detected data type
// and the suggested goal.
func (s *Session) SelectSource(file source.File) (source.DataType, string, error) {
	dataType := file.Type()
	goal := source.SuggestedGoal(dataType)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", "", ErrClosed
	}
	s.src = file
	s.srcGen++
	s.hasSource = true
	s.generated = false
	s.goal = goal
	s.response = nil
	s.mu.Unlock()

	s.coalescer.Cancel()
	s.queue.CancelAll()
	s.explainer.SetContext(nil, goal)
	s.store.SetBaseline(plan.Snapshot{})
	s.store.Replace(plan.Snapshot{})

	var original preview.Resource
	if file.IsImage() {
		original = preview.NewMemory(file.Data, file.MIMEType)
	}
	s.pipeline.SetSource(file, original)

	log.Info().
		Str("file", file.Name).
		Str("data_type", string(dataType)).
		Int("bytes", len(file.Data)).
		Msg("Source selected")
	return dataType, goal, nil
}

// GeneratePlan asks the service for a plan toward goal (the suggested goal
// when empty). The result becomes the live plan and the defaults for Add.
func (s *Session) GeneratePlan(ctx context.Context, goal string) (*api.PlanResponse, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if !s.hasSource {
		s.mu.Unlock()
		return nil, ErrNoSource
	}
	if goal == "" {
		goal = s.goal
	}
	src, gen := s.src, s.srcGen
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.service.GeneratePlan(ctx, src, goal)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.srcGen != gen {
		// Another source was selected while the request was in flight.
		s.mu.Unlock()
		return nil, context.Canceled
	}
	s.goal = goal
	s.response = resp
	s.generated = true
	s.mu.Unlock()

	s.explainer.SetContext(resp.Profile, goal)
	s.store.SetBaseline(resp.Plan.Ops)
	s.store.Replace(resp.Plan.Ops)

	log.Info().
		Str("goal", goal).
		Str("plan", resp.Plan.Ops.String()).
		Dur("duration", time.Since(start)).
		Msg("Plan generated")
	return resp, nil
}

// Add inserts an operation of kind with default parameters.
func (s *Session) Add(kind plan.Kind) error { return s.store.Add(kind) }

// Remove deletes the operation of kind.
func (s *Session) Remove(kind plan.Kind) { s.store.Remove(kind) }

// SetParam updates one parameter.
func (s *Session) SetParam(kind plan.Kind, name string, value plan.Value) error {
	return s.store.SetParam(kind, name, value)
}

// Plan returns the live plan.
func (s *Session) Plan() plan.Snapshot { return s.store.Snapshot() }

// Store exposes the plan store for subscribers such as a UI.
func (s *Session) Store() *plan.Store { return s.store }

// Generated returns the last plan response, or nil.
func (s *Session) Generated() *api.PlanResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response
}

// Source returns the selected source.
func (s *Session) Source() (source.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src, s.hasSource
}

// Goal returns the current goal.
func (s *Session) Goal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goal
}

// SetLearningMode toggles explanations. Turning it on explains the whole
// plan; individual failures are returned joined but do not undo the others.
func (s *Session) SetLearningMode(ctx context.Context, on bool) error {
	s.explainer.SetLearningMode(on)
	if !on {
		return nil
	}
	return s.explainer.ExplainAll(ctx)
}

// Explain fetches the explanation for one kind.
func (s *Session) Explain(ctx context.Context, kind plan.Kind, force bool) error {
	return s.explainer.Explain(ctx, kind, force)
}

// ExplainAll refetches explanations for every operation.
func (s *Session) ExplainAll(ctx context.Context) error {
	return s.explainer.ExplainAll(ctx)
}

// Explanation returns the cached explanation for kind.
func (s *Session) Explanation(kind plan.Kind) (explain.Entry, bool) {
	return s.explainer.Get(kind)
}

// Explanations returns every cached explanation.
func (s *Session) Explanations() []explain.Entry {
	return s.explainer.All()
}

// View calls fn with the displayed preview resource.
func (s *Session) View(fn func(preview.Resource)) {
	s.manager.View(fn)
}

// PreviewStatus reports the processed slot state and latest request id.
func (s *Session) PreviewStatus() preview.Status {
	return s.pipeline.Status()
}

// FlushPreview submits a pending plan change now instead of after the quiet
// period. It reports whether anything was pending.
func (s *Session) FlushPreview() bool {
	return s.coalescer.Flush()
}

// Apply processes files (the selected source when none are given) with the
// live plan and streams the archive to w.
func (s *Session) Apply(ctx context.Context, files []source.File, w io.Writer) (*remote.ApplyResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if len(files) == 0 {
		if !s.hasSource {
			s.mu.Unlock()
			return nil, ErrNoSource
		}
		files = []source.File{s.src}
	}
	s.mu.Unlock()

	snap := s.store.Snapshot()
	start := time.Now()
	res, err := s.service.Apply(ctx, files, snap, w)
	if err != nil {
		return nil, fmt.Errorf("failed to apply plan: %w", err)
	}
	log.Info().
		Int("files", len(files)).
		Str("plan", snap.String()).
		Int64("bytes", res.Bytes).
		Dur("duration", time.Since(start)).
		Msg("Plan applied")
	return res, nil
}

// Profile returns the data profile from the last generated plan.
func (s *Session) Profile() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response == nil {
		return nil
	}
	return s.response.Profile
}

// Close cancels all work and releases every resource. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.errs)
	s.mu.Unlock()

	s.coalescer.Stop()
	s.unsubscribe()
	s.pipeline.Close()
	s.queue.Close()
	s.explainer.Close()
	s.manager.Teardown()
	log.Debug().Msg("Session closed")
}
