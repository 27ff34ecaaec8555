package explain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fpang/prism/internal/plan"
)

type stubExplainer struct {
	mu    sync.Mutex
	calls map[plan.Kind]int
	fail  map[plan.Kind]error
	// gate, when set, blocks every call until closed.
	gate chan struct{}
	// entered receives the kind of every call once it starts.
	entered chan plan.Kind
}

func newStubExplainer() *stubExplainer {
	return &stubExplainer{
		calls: make(map[plan.Kind]int),
		fail:  make(map[plan.Kind]error),
	}
}

func (s *stubExplainer) Explain(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.calls[req.Step.Kind]++
	err := s.fail[req.Step.Kind]
	gate, entered := s.gate, s.entered
	s.mu.Unlock()

	if entered != nil {
		entered <- req.Step.Kind
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return "explains " + string(req.Step.Kind) + " for " + req.Goal, nil
}

func (s *stubExplainer) count(kind plan.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func newStore(t *testing.T, kinds ...plan.Kind) *plan.Store {
	t.Helper()
	store := plan.NewStore()
	for _, k := range kinds {
		if err := store.Add(k); err != nil {
			t.Fatalf("Add(%s): %v", k, err)
		}
	}
	return store
}

func TestExplainRequiresLearningMode(t *testing.T) {
	store := newStore(t, plan.KindResize)
	ex := newStubExplainer()
	s := New(store, ex, Options{})
	defer s.Close()

	if err := s.Explain(context.Background(), plan.KindResize, false); err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if ex.count(plan.KindResize) != 0 {
		t.Error("explainer called with learning mode off")
	}
	if _, ok := s.Get(plan.KindResize); ok {
		t.Error("entry cached with learning mode off")
	}
}

func TestExplainCachesUntilForced(t *testing.T) {
	store := newStore(t, plan.KindResize)
	ex := newStubExplainer()
	s := New(store, ex, Options{})
	defer s.Close()
	s.SetLearningMode(true)
	s.SetContext(nil, "classify")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Explain(ctx, plan.KindResize, false); err != nil {
			t.Fatalf("Explain: %v", err)
		}
	}
	if n := ex.count(plan.KindResize); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}

	if err := s.Explain(ctx, plan.KindResize, true); err != nil {
		t.Fatalf("Explain forced: %v", err)
	}
	if n := ex.count(plan.KindResize); n != 2 {
		t.Errorf("expected forced refetch, got %d calls", n)
	}

	e, ok := s.Get(plan.KindResize)
	if !ok || e.Stale {
		t.Fatalf("expected fresh entry, got %+v ok=%v", e, ok)
	}
	if e.Text != "explains resize for classify" {
		t.Errorf("unexpected text %q", e.Text)
	}
}

func TestMutationInvalidates(t *testing.T) {
	store := newStore(t, plan.KindResize)
	ex := newStubExplainer()
	s := New(store, ex, Options{})
	defer s.Close()
	s.SetLearningMode(true)

	ctx := context.Background()
	if err := s.Explain(ctx, plan.KindResize, false); err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if err := store.SetParam(plan.KindResize, "width", plan.Int(64)); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	if _, ok := s.Get(plan.KindResize); ok {
		t.Error("expected cache cleared by mutation")
	}
	if err := s.Explain(ctx, plan.KindResize, false); err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if n := ex.count(plan.KindResize); n != 2 {
		t.Errorf("expected refetch after mutation, got %d calls", n)
	}
}

func TestExplainAbsentKind(t *testing.T) {
	s := New(plan.NewStore(), newStubExplainer(), Options{})
	defer s.Close()
	s.SetLearningMode(true)

	err := s.Explain(context.Background(), plan.KindAugment, false)
	if !errors.Is(err, plan.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExplainAllToleratesFailure(t *testing.T) {
	store := newStore(t, plan.KindResize, plan.KindDenoise, plan.KindNormalize, plan.KindAugment)
	ex := newStubExplainer()
	ex.fail[plan.KindDenoise] = errors.New("model overloaded")
	s := New(store, ex, Options{Concurrency: 4})
	defer s.Close()
	s.SetLearningMode(true)

	err := s.ExplainAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "denoise") {
		t.Fatalf("expected joined error naming denoise, got %v", err)
	}

	entries := s.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 cached entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Kind == plan.KindDenoise {
			t.Error("failed kind was cached")
		}
		if e.Stale {
			t.Errorf("%s unexpectedly stale", e.Kind)
		}
	}
}

func TestExplainAllRunsConcurrently(t *testing.T) {
	store := newStore(t, plan.KindResize, plan.KindDenoise, plan.KindNormalize)
	ex := newStubExplainer()
	ex.gate = make(chan struct{})
	ex.entered = make(chan plan.Kind, 3)
	s := New(store, ex, Options{Concurrency: 3})
	defer s.Close()
	s.SetLearningMode(true)

	done := make(chan error, 1)
	go func() { done <- s.ExplainAll(context.Background()) }()

	// All three must be in flight at once before any is released.
	for i := 0; i < 3; i++ {
		<-ex.entered
	}
	close(ex.gate)
	if err := <-done; err != nil {
		t.Fatalf("ExplainAll: %v", err)
	}
	if got := len(s.All()); got != 3 {
		t.Errorf("expected 3 entries, got %d", got)
	}
}

// A response requested before a plan change still lands, keyed by kind, but
// is reported stale and is refetched by the next non-forced Explain.
func TestStalenessWindow(t *testing.T) {
	store := newStore(t, plan.KindResize)
	ex := newStubExplainer()
	ex.gate = make(chan struct{})
	ex.entered = make(chan plan.Kind, 1)
	s := New(store, ex, Options{})
	defer s.Close()
	s.SetLearningMode(true)

	done := make(chan error, 1)
	go func() { done <- s.Explain(context.Background(), plan.KindResize, false) }()
	<-ex.entered

	if err := store.SetParam(plan.KindResize, "width", plan.Int(32)); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	close(ex.gate)
	if err := <-done; err != nil {
		t.Fatalf("Explain: %v", err)
	}

	e, ok := s.Get(plan.KindResize)
	if !ok {
		t.Fatal("expected late response to be stored")
	}
	if !e.Stale {
		t.Error("expected late response marked stale")
	}

	ex.mu.Lock()
	ex.gate = nil
	ex.entered = nil
	ex.mu.Unlock()
	if err := s.Explain(context.Background(), plan.KindResize, false); err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if n := ex.count(plan.KindResize); n != 2 {
		t.Errorf("expected stale entry refetched, got %d calls", n)
	}
	if e, _ := s.Get(plan.KindResize); e.Stale {
		t.Error("expected fresh entry after refetch")
	}
}

func TestLateReplyKeepsNewerEntry(t *testing.T) {
	store := newStore(t, plan.KindResize)
	started := make(chan struct{})
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	ex := ExplainerFunc(func(ctx context.Context, req Request) (string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release
			return "old epoch text", nil
		}
		return "fresh text", nil
	})
	s := New(store, ex, Options{Concurrency: 2})
	defer s.Close()
	s.SetLearningMode(true)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- s.Explain(ctx, plan.KindResize, false) }()
	<-started

	if err := store.SetParam(plan.KindResize, "width", plan.Int(48)); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	if err := s.Explain(ctx, plan.KindResize, false); err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if e, ok := s.Get(plan.KindResize); !ok || e.Text != "fresh text" || e.Stale {
		t.Fatalf("after refetch got %+v ok=%v", e, ok)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("late Explain: %v", err)
	}
	e, ok := s.Get(plan.KindResize)
	if !ok || e.Text != "fresh text" || e.Stale {
		t.Errorf("late reply replaced the current entry: %+v", e)
	}
}
