package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/engine"
	"github.com/fpang/prism/internal/explain"
	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/remote"
	"github.com/fpang/prism/internal/source"
)

type stubService struct {
	mu      sync.Mutex
	applied plan.Snapshot
	files   int
}

func (s *stubService) GeneratePlan(_ context.Context, src source.File, _ string) (*api.PlanResponse, error) {
	return &api.PlanResponse{
		Plan:     api.GeneratedPlan{Ops: plan.MustSnapshot(plan.DefaultOperation(plan.KindResize)), Reasoning: "standard size"},
		Profile:  json.RawMessage(`{}`),
		DataType: string(src.Type()),
	}, nil
}

func (s *stubService) Preview(context.Context, source.File, plan.Snapshot) ([]byte, error) {
	return []byte("png"), nil
}

func (s *stubService) Explain(_ context.Context, req explain.Request) (string, error) {
	return "because " + string(req.Step.Kind), nil
}

func (s *stubService) Apply(_ context.Context, files []source.File, snap plan.Snapshot, w io.Writer) (*remote.ApplyResult, error) {
	s.mu.Lock()
	s.applied = snap
	s.files = len(files)
	s.mu.Unlock()
	n, err := io.WriteString(w, "zip-bytes")
	return &remote.ApplyResult{BatchID: "b1", Bytes: int64(n)}, err
}

func newTestEditor(t *testing.T) (*editor, *stubService, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	svc := &stubService{}
	ed := newEditor(&out)
	ed.previewPath = ""
	ed.session = engine.New(engine.Config{Service: svc})
	ed.pickSource = func() (string, error) { return "", errors.New("no dialog in tests") }
	t.Cleanup(func() {
		ed.close()
		ed.session.Close()
	})
	return ed, svc, &out
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEditorEditsPlan(t *testing.T) {
	ed, _, _ := newTestEditor(t)
	ctx := context.Background()

	for _, line := range []string{
		"add resize",
		"set resize width 300",
		"add augment",
		"set augment rotation -15",
		"set augment mode ml_training",
		"add denoise",
		"rm denoise",
	} {
		if err := ed.exec(ctx, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}

	snap := ed.session.Plan()
	if got := snap.Kinds(); len(got) != 2 || got[0] != plan.KindResize || got[1] != plan.KindAugment {
		t.Fatalf("kinds = %v", got)
	}
	resize, _ := snap.Get(plan.KindResize)
	if w := resize.IntParam("width", 0); w != 300 {
		t.Errorf("width = %d, want 300", w)
	}
	augment, _ := snap.Get(plan.KindAugment)
	if r := augment.Number("rotation", 0); r != -15 {
		t.Errorf("rotation = %v, want -15", r)
	}
	if m := augment.EnumParam("mode", ""); m != "ml_training" {
		t.Errorf("mode = %q", m)
	}
}

func TestEditorErrors(t *testing.T) {
	ed, _, _ := newTestEditor(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"add sharpen", `unknown operation "sharpen"`},
		{"set resize width 10", "not found"},
		{"learn maybe", "expected on or off"},
		{"frobnicate", "unknown command"},
		{"pick", "no dialog"},
	}
	for _, tt := range tests {
		err := ed.exec(ctx, tt.line)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%q: err = %v, want containing %q", tt.line, err, tt.want)
		}
	}
	if err := ed.exec(ctx, "quit"); !errors.Is(err, errQuit) {
		t.Errorf("quit err = %v", err)
	}
	if err := ed.exec(ctx, "   "); err != nil {
		t.Errorf("blank line err = %v", err)
	}
}

func TestEditorOpenGenerateApply(t *testing.T) {
	ed, svc, out := newTestEditor(t)
	ctx := context.Background()
	path := writeSource(t, "cat.png")

	if err := ed.exec(ctx, "open "+path); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !strings.Contains(out.String(), "opened cat.png (image") {
		t.Errorf("open output = %q", out.String())
	}
	if err := ed.exec(ctx, "generate make it small"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if ed.session.Goal() != "make it small" {
		t.Errorf("goal = %q", ed.session.Goal())
	}
	if !strings.Contains(out.String(), "reasoning: standard size") {
		t.Errorf("generate output = %q", out.String())
	}

	bundle := filepath.Join(t.TempDir(), "out.zip")
	if err := ed.exec(ctx, "apply --out "+bundle); err != nil {
		t.Fatalf("apply: %v", err)
	}
	data, err := os.ReadFile(bundle)
	if err != nil || string(data) != "zip-bytes" {
		t.Fatalf("bundle = %q, %v", data, err)
	}
	if svc.files != 1 || !svc.applied.Equal(ed.session.Plan()) {
		t.Errorf("applied %d files with %v", svc.files, svc.applied)
	}
}

func TestEditorLearnMode(t *testing.T) {
	ed, _, out := newTestEditor(t)
	ctx := context.Background()

	if err := ed.exec(ctx, "open "+writeSource(t, "cat.png")); err != nil {
		t.Fatal(err)
	}
	if err := ed.exec(ctx, "generate"); err != nil {
		t.Fatal(err)
	}
	if err := ed.exec(ctx, "learn on"); err != nil {
		t.Fatalf("learn on: %v", err)
	}
	e, ok := ed.session.Explanation(plan.KindResize)
	if !ok || e.Text != "because resize" {
		t.Errorf("explanation = %+v, %v", e, ok)
	}
	if !strings.Contains(out.String(), "> because resize") {
		t.Errorf("show output = %q", out.String())
	}
}

func TestEditorBatch(t *testing.T) {
	ed, _, out := newTestEditor(t)
	ctx := context.Background()

	if err := ed.exec(ctx, "batch b1"); err == nil {
		t.Fatal("expected error without a lookup")
	}

	ed.lookup = func(_ context.Context, id string) (*api.BatchResponse, error) {
		if id != "b1" {
			return nil, errors.New("not found")
		}
		return &api.BatchResponse{
			BatchID:    "b1",
			Files:      []string{"a.png"},
			Outputs:    1,
			Bytes:      1536,
			Plan:       plan.MustSnapshot(plan.DefaultOperation(plan.KindResize)),
			CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			ArchiveURL: "https://bundles.test/b1",
		}, nil
	}
	if err := ed.exec(ctx, "batch b1"); err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, want := range []string{"batch b1: 1 files, 1 outputs, 1.5 KiB", "plan: resize(", "download: https://bundles.test/b1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output %q missing %q", out.String(), want)
		}
	}
	if err := ed.exec(ctx, "batch other"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown batch err = %v", err)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := parseKind("Resize"); err != nil || k != plan.KindResize {
		t.Errorf("parseKind(Resize) = %v, %v", k, err)
	}
	if _, err := parseKind("blur"); err == nil {
		t.Error("expected error for blur")
	}
}
