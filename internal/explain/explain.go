// Package explain keeps per-operation explanations for learning mode. The
// cache is keyed by operation kind and invalidated on every plan change.
package explain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/queue"
)

// Priority of explanation jobs on a shared queue; previews use a higher one.
const Priority = 0

// DefaultConcurrency bounds ExplainAll fan-out.
const DefaultConcurrency = 4

// Request is one explanation lookup.
type Request struct {
	Step    plan.Operation
	Profile json.RawMessage
	Goal    string
}

// Explainer fetches the text for one step.
type Explainer interface {
	Explain(ctx context.Context, req Request) (string, error)
}

// ExplainerFunc adapts a function to Explainer.
type ExplainerFunc func(ctx context.Context, req Request) (string, error)

func (f ExplainerFunc) Explain(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Entry is a cached explanation. Stale is set when the plan changed after
// the explanation was requested.
type Entry struct {
	Kind  plan.Kind
	Text  string
	Stale bool
}

type entry struct {
	text  string
	epoch uint64
}

// Options configures a Synchronizer.
type Options struct {
	// Queue is shared with preview requests. A private queue is created
	// when nil.
	Queue       *queue.Queue[any]
	Concurrency int
}

// Synchronizer fetches and caches explanations for the operations in a
// store's plan.
type Synchronizer struct {
	store       *plan.Store
	explainer   Explainer
	queue       *queue.Queue[any]
	concurrency int
	ownsQueue   bool
	unsubscribe func()

	mu       sync.Mutex
	learning bool
	profile  json.RawMessage
	goal     string
	epoch    uint64
	cache    map[plan.Kind]entry
}

// New returns a synchronizer subscribed to store.
func New(store *plan.Store, explainer Explainer, opts Options) *Synchronizer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	q := opts.Queue
	owns := q == nil
	if owns {
		q = queue.New[any](queue.WithConcurrency(opts.Concurrency))
	}
	s := &Synchronizer{
		store:       store,
		explainer:   explainer,
		queue:       q,
		concurrency: opts.Concurrency,
		ownsQueue:   owns,
		cache:       make(map[plan.Kind]entry),
	}
	s.unsubscribe = store.Subscribe(func(plan.Snapshot) { s.InvalidateAll() })
	return s
}

// InvalidateAll clears the cache and starts a new epoch. Responses already
// in flight still land, marked stale.
func (s *Synchronizer) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	clear(s.cache)
}

// SetLearningMode turns explanations on or off.
func (s *Synchronizer) SetLearningMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learning = on
}

// LearningMode reports whether explanations are enabled.
func (s *Synchronizer) LearningMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.learning
}

// SetContext records the data profile and goal sent with every request.
func (s *Synchronizer) SetContext(profile json.RawMessage, goal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
	s.goal = goal
}

// Explain fetches the explanation for kind. It does nothing when learning
// mode is off, or when a current entry exists and force is false.
func (s *Synchronizer) Explain(ctx context.Context, kind plan.Kind, force bool) error {
	s.mu.Lock()
	if !s.learning {
		s.mu.Unlock()
		return nil
	}
	if e, ok := s.cache[kind]; ok && e.epoch == s.epoch && !force {
		s.mu.Unlock()
		return nil
	}
	epoch := s.epoch
	req := Request{Profile: s.profile, Goal: s.goal}
	s.mu.Unlock()

	step, ok := s.store.Snapshot().Get(kind)
	if !ok {
		return &plan.ValidationError{Kind: kind, Err: plan.ErrNotFound}
	}
	req.Step = step

	start := time.Now()
	fut := s.queue.Enqueue(ctx, Priority, func(ctx context.Context) (any, error) {
		return s.explainer.Explain(ctx, req)
	})
	v, err := fut.Wait(ctx)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Explanation failed")
		return fmt.Errorf("explain %s: %w", kind, err)
	}
	text, _ := v.(string)

	s.mu.Lock()
	// A late reply is kept as stale text, but never over a newer entry.
	if cur, ok := s.cache[kind]; !ok || cur.epoch <= epoch {
		s.cache[kind] = entry{text: text, epoch: epoch}
	}
	stale := epoch != s.epoch
	s.mu.Unlock()

	log.Debug().
		Str("kind", string(kind)).
		Bool("stale", stale).
		Dur("duration", time.Since(start)).
		Msg("Explanation cached")
	return nil
}

// ExplainAll clears the cache and explains every operation in the current
// plan concurrently. A failure for one kind does not stop the others; the
// returned error joins all failures.
func (s *Synchronizer) ExplainAll(ctx context.Context) error {
	if !s.LearningMode() {
		return nil
	}
	s.InvalidateAll()

	kinds := s.store.Snapshot().Kinds()
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(s.concurrency)
	for _, kind := range kinds {
		g.Go(func() error {
			if err := s.Explain(ctx, kind, true); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Int("requested", len(kinds)).
		Int("failed", len(errs)).
		Msg("Explained plan")
	return errors.Join(errs...)
}

// Get returns the cached explanation for kind.
func (s *Synchronizer) Get(kind plan.Kind) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[kind]
	if !ok {
		return Entry{}, false
	}
	return Entry{Kind: kind, Text: e.text, Stale: e.epoch != s.epoch}, true
}

// All returns cached explanations in kind display order.
func (s *Synchronizer) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, kind := range plan.Kinds {
		if e, ok := s.cache[kind]; ok {
			out = append(out, Entry{Kind: kind, Text: e.text, Stale: e.epoch != s.epoch})
		}
	}
	return out
}

// Close unsubscribes from the store and stops a private queue.
func (s *Synchronizer) Close() {
	s.unsubscribe()
	if s.ownsQueue {
		s.queue.Close()
	}
}
