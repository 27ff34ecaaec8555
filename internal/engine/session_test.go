package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/explain"
	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/preview"
	"github.com/fpang/prism/internal/remote"
	"github.com/fpang/prism/internal/source"
)

type fakeService struct {
	mu          sync.Mutex
	generated   plan.Snapshot
	previews    []plan.Snapshot
	previewErr  error
	explainErr  map[plan.Kind]error
	explained   []plan.Kind
	appliedPlan plan.Snapshot
	appliedN    int
}

func (f *fakeService) GeneratePlan(ctx context.Context, src source.File, goal string) (*api.PlanResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &api.PlanResponse{
		Plan:     api.GeneratedPlan{Ops: f.generated, Reasoning: "test"},
		Profile:  json.RawMessage(`{"width":10,"height":10}`),
		DataType: string(src.Type()),
	}, nil
}

func (f *fakeService) Preview(ctx context.Context, src source.File, snap plan.Snapshot) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previews = append(f.previews, snap)
	if f.previewErr != nil {
		return nil, f.previewErr
	}
	return []byte("png:" + snap.String()), nil
}

func (f *fakeService) Explain(ctx context.Context, req explain.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.explained = append(f.explained, req.Step.Kind)
	if err := f.explainErr[req.Step.Kind]; err != nil {
		return "", err
	}
	return "why " + string(req.Step.Kind), nil
}

func (f *fakeService) Apply(ctx context.Context, files []source.File, snap plan.Snapshot, w io.Writer) (*remote.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appliedPlan = snap
	f.appliedN = len(files)
	n, err := io.WriteString(w, "zip")
	return &remote.ApplyResult{Bytes: int64(n)}, err
}

func (f *fakeService) previewCalls() []plan.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]plan.Snapshot(nil), f.previews...)
}

func resizeOnly() plan.Snapshot {
	return plan.MustSnapshot(plan.DefaultOperation(plan.KindResize))
}

func newSession(t *testing.T, svc *fakeService) (*Session, <-chan preview.Result) {
	t.Helper()
	results := make(chan preview.Result, 16)
	s := New(Config{
		Service:  svc,
		Debounce: 20 * time.Millisecond,
		OnPreview: func(r preview.Result) {
			results <- r
		},
	})
	t.Cleanup(s.Close)
	return s, results
}

func waitResult(t *testing.T, results <-chan preview.Result) preview.Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for preview")
		return preview.Result{}
	}
}

func TestGeneratedPlanIsPreviewed(t *testing.T) {
	svc := &fakeService{generated: resizeOnly()}
	s, results := newSession(t, svc)

	if _, _, err := s.SelectSource(source.New("cat.png", []byte("img"))); err != nil {
		t.Fatalf("SelectSource: %v", err)
	}
	if _, err := s.GeneratePlan(context.Background(), ""); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}

	r := waitResult(t, results)
	if !r.Snapshot.Equal(resizeOnly()) {
		t.Errorf("unexpected previewed plan %s", r.Snapshot)
	}
	var shown string
	s.View(func(res preview.Resource) { shown = string(res.Bytes()) })
	if shown != "png:"+resizeOnly().String() {
		t.Errorf("unexpected displayed preview %q", shown)
	}
}

func TestEditBurstCoalesces(t *testing.T) {
	svc := &fakeService{generated: resizeOnly()}
	s, results := newSession(t, svc)

	s.SelectSource(source.New("cat.png", []byte("img")))
	if _, err := s.GeneratePlan(context.Background(), "classify"); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	waitResult(t, results)

	for w := 100; w < 110; w++ {
		if err := s.SetParam(plan.KindResize, "width", plan.Int(w)); err != nil {
			t.Fatalf("SetParam: %v", err)
		}
	}
	r := waitResult(t, results)
	op, _ := r.Snapshot.Get(plan.KindResize)
	if w := op.IntParam("width", 0); w != 109 {
		t.Errorf("expected last width 109 previewed, got %d", w)
	}

	select {
	case extra := <-results:
		t.Errorf("unexpected extra preview %s", extra.Snapshot)
	case <-time.After(100 * time.Millisecond):
	}
	if n := len(svc.previewCalls()); n != 2 {
		t.Errorf("expected 2 preview calls, got %d", n)
	}
}

func TestNonImageSourceSkipsPreview(t *testing.T) {
	svc := &fakeService{}
	s, _ := newSession(t, svc)

	dataType, goal, err := s.SelectSource(source.New("table.csv", []byte("a,b\n1,2\n")))
	if err != nil {
		t.Fatalf("SelectSource: %v", err)
	}
	if dataType != source.TypeCSV || goal != source.GoalCSV {
		t.Errorf("unexpected detection %s %q", dataType, goal)
	}
	if _, err := s.GeneratePlan(context.Background(), ""); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if err := s.Add(plan.KindNormalize); err != nil {
		t.Fatalf("Add: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(svc.previewCalls()); n != 0 {
		t.Errorf("expected no preview calls for csv, got %d", n)
	}
}

func TestEditsBeforeGenerationSkipPreview(t *testing.T) {
	svc := &fakeService{}
	s, _ := newSession(t, svc)

	s.SelectSource(source.New("cat.png", []byte("img")))
	if err := s.Add(plan.KindResize); err != nil {
		t.Fatalf("Add: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(svc.previewCalls()); n != 0 {
		t.Errorf("expected no preview before a plan is generated, got %d", n)
	}
}

func TestPreviewFailureSurfaced(t *testing.T) {
	boom := &remote.TransportError{Op: "preview", StatusCode: 500, Detail: "cv2 exploded"}
	svc := &fakeService{generated: resizeOnly(), previewErr: boom}
	s, _ := newSession(t, svc)

	s.SelectSource(source.New("cat.png", []byte("img")))
	if _, err := s.GeneratePlan(context.Background(), ""); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}

	select {
	case err := <-s.Errors():
		var terr *remote.TransportError
		if !errors.As(err, &terr) || terr.Detail != "cv2 exploded" {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for surfaced error")
	}

	var shown string
	s.View(func(res preview.Resource) { shown = string(res.Bytes()) })
	if shown != "img" {
		t.Errorf("expected original shown after failure, got %q", shown)
	}
}

func TestEmptyingPlanShowsOriginal(t *testing.T) {
	svc := &fakeService{generated: resizeOnly()}
	s, results := newSession(t, svc)

	s.SelectSource(source.New("cat.png", []byte("img")))
	if _, err := s.GeneratePlan(context.Background(), ""); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	waitResult(t, results)

	s.Remove(plan.KindResize)
	s.FlushPreview()

	var shown string
	s.View(func(res preview.Resource) { shown = string(res.Bytes()) })
	if shown != "img" {
		t.Errorf("expected original after emptying plan, got %q", shown)
	}
	if n := len(svc.previewCalls()); n != 1 {
		t.Errorf("empty plan made a preview call: %d calls", n)
	}
}

func TestSelectSourceResets(t *testing.T) {
	svc := &fakeService{generated: resizeOnly()}
	s, results := newSession(t, svc)

	s.SelectSource(source.New("cat.png", []byte("img")))
	if _, err := s.GeneratePlan(context.Background(), ""); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	r := waitResult(t, results)
	processed := r.Resource

	s.SelectSource(source.New("dog.png", []byte("dog")))
	if !s.Plan().Empty() {
		t.Errorf("expected empty plan after new source, got %s", s.Plan())
	}
	if len(processed.Bytes()) != 0 {
		t.Error("expected processed preview released on new source")
	}
	var shown string
	s.View(func(res preview.Resource) { shown = string(res.Bytes()) })
	if shown != "dog" {
		t.Errorf("expected new original shown, got %q", shown)
	}
	if s.Generated() != nil {
		t.Error("expected generated plan cleared")
	}
}

func TestApplyUsesLivePlan(t *testing.T) {
	svc := &fakeService{generated: resizeOnly()}
	s, _ := newSession(t, svc)

	s.SelectSource(source.New("cat.png", []byte("img")))
	if _, err := s.GeneratePlan(context.Background(), ""); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if err := s.Add(plan.KindDenoise); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var buf bytes.Buffer
	res, err := s.Apply(context.Background(), nil, &buf)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if buf.String() != "zip" || res.Bytes != 3 {
		t.Errorf("unexpected archive %q", buf.String())
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if kinds := svc.appliedPlan.Kinds(); len(kinds) != 2 || kinds[1] != plan.KindDenoise {
		t.Errorf("expected live plan applied, got %s", svc.appliedPlan)
	}
	if svc.appliedN != 1 {
		t.Errorf("expected selected source applied, got %d files", svc.appliedN)
	}
}

func TestLearningModeExplainsPlan(t *testing.T) {
	generated := plan.MustSnapshot(
		plan.DefaultOperation(plan.KindResize),
		plan.DefaultOperation(plan.KindDenoise),
		plan.DefaultOperation(plan.KindNormalize),
	)
	svc := &fakeService{
		generated:  generated,
		explainErr: map[plan.Kind]error{plan.KindDenoise: errors.New("quota")},
	}
	s, _ := newSession(t, svc)

	s.SelectSource(source.New("cat.png", []byte("img")))
	if _, err := s.GeneratePlan(context.Background(), ""); err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if err := s.SetLearningMode(context.Background(), true); err == nil {
		t.Error("expected the denoise failure to be reported")
	}

	if got := len(s.Explanations()); got != 2 {
		t.Errorf("expected 2 explanations, got %d", got)
	}
	e, ok := s.Explanation(plan.KindResize)
	if !ok || e.Text != "why resize" {
		t.Errorf("unexpected resize explanation %+v", e)
	}

	if err := s.SetParam(plan.KindResize, "width", plan.Int(1)); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	if got := len(s.Explanations()); got != 0 {
		t.Errorf("expected explanations cleared by edit, got %d", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	svc := &fakeService{generated: resizeOnly()}
	s := New(Config{Service: svc})

	s.SelectSource(source.New("cat.png", []byte("img")))
	s.Close()
	s.Close()

	if _, ok := <-s.Errors(); ok {
		t.Error("expected Errors closed")
	}
	if _, _, err := s.SelectSource(source.New("x.png", nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestGeneratePlanWithoutSource(t *testing.T) {
	s, _ := newSession(t, &fakeService{})
	if _, err := s.GeneratePlan(context.Background(), "x"); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}
