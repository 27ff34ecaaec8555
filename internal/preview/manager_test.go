package preview

import (
	"sync"
	"testing"
)

func TestPublishReleasesPrevious(t *testing.T) {
	m := NewManager()
	original := NewMemory([]byte("orig"), "image/png")
	m.SetOriginal(original)

	a := NewMemory([]byte("a"), "image/png")
	b := NewMemory([]byte("b"), "image/png")

	m.Publish(a)
	m.Publish(a)
	if a.Released() != 0 {
		t.Errorf("republishing the live resource released it")
	}

	m.Publish(b)
	if a.Released() != 1 {
		t.Errorf("expected a released once, got %d", a.Released())
	}
	if m.Current() != b {
		t.Error("expected b live")
	}

	m.ShowOriginal()
	if b.Released() != 1 {
		t.Errorf("expected b released once, got %d", b.Released())
	}
	if !m.ShowingOriginal() {
		t.Error("expected original shown")
	}

	m.Publish(NewMemory([]byte("c"), "image/png"))
	if original.Released() != 0 {
		t.Errorf("original released by publish: %d", original.Released())
	}
}

func TestSetOriginalRetiresBothSlots(t *testing.T) {
	m := NewManager()
	first := NewMemory([]byte("1"), "image/png")
	live := NewMemory([]byte("live"), "image/png")
	m.SetOriginal(first)
	m.Publish(live)

	second := NewMemory([]byte("2"), "image/png")
	m.SetOriginal(second)

	if first.Released() != 1 || live.Released() != 1 {
		t.Errorf("expected old original and live released once, got %d and %d",
			first.Released(), live.Released())
	}
	if m.Current() != nil {
		t.Error("expected empty live slot after new source")
	}
	var shown Resource
	m.View(func(r Resource) { shown = r })
	if shown != second {
		t.Error("expected View to fall back to the new original")
	}
}

func TestTeardownIdempotent(t *testing.T) {
	m := NewManager()
	original := NewMemory([]byte("orig"), "image/png")
	live := NewMemory([]byte("live"), "image/png")
	m.SetOriginal(original)
	m.Publish(live)

	m.Teardown()
	m.Teardown()

	if original.Released() != 1 {
		t.Errorf("expected original released once, got %d", original.Released())
	}
	if live.Released() != 1 {
		t.Errorf("expected live released once, got %d", live.Released())
	}

	late := NewMemory([]byte("late"), "image/png")
	m.Publish(late)
	if late.Released() != 1 {
		t.Errorf("expected publish after teardown to release, got %d", late.Released())
	}
	if m.Current() != nil {
		t.Error("expected nothing live after teardown")
	}
}

func TestTeardownWhileShowingOriginal(t *testing.T) {
	m := NewManager()
	original := NewMemory([]byte("orig"), "image/png")
	m.SetOriginal(original)
	m.ShowOriginal()
	m.Teardown()

	if original.Released() != 1 {
		t.Errorf("expected original released once, got %d", original.Released())
	}
}

// View holds off a concurrent swap, so the viewed resource is never released
// while fn runs.
func TestViewExcludesSwap(t *testing.T) {
	m := NewManager()
	first := NewMemory([]byte("first"), "image/png")
	m.Publish(first)

	inView := make(chan struct{})
	finish := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.View(func(r Resource) {
			close(inView)
			<-finish
			if r.(*Memory).Released() != 0 {
				t.Error("resource released during View")
			}
		})
	}()

	<-inView
	published := make(chan struct{})
	go func() {
		m.Publish(NewMemory([]byte("second"), "image/png"))
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish completed while View was running")
	default:
	}
	close(finish)
	wg.Wait()
	<-published

	if first.Released() != 1 {
		t.Errorf("expected first released once, got %d", first.Released())
	}
}
