package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/queue"
	"github.com/fpang/prism/internal/source"
)

// Priorities on the shared request queue. Previews outrank explanations.
const (
	PriorityPreview = 10
	PriorityExplain = 0
)

// ErrNoPreview is reported when a renderer returns neither a resource nor
// an error.
var ErrNoPreview = errors.New("renderer returned no preview")

// State of the processed slot. A slot is Pending while a request is in
// flight and Idle otherwise; Succeeded, Failed and Cancelled only appear as
// the outcome of the last settled request.
type State int

const (
	StateIdle State = iota
	StatePending
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Renderer produces a preview of src with snap applied.
type Renderer interface {
	Render(ctx context.Context, src source.File, snap plan.Snapshot) (Resource, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, src source.File, snap plan.Snapshot) (Resource, error)

func (f RendererFunc) Render(ctx context.Context, src source.File, snap plan.Snapshot) (Resource, error) {
	return f(ctx, src, snap)
}

// Previewer returns encoded preview bytes, e.g. a remote processing client.
type Previewer interface {
	Preview(ctx context.Context, src source.File, snap plan.Snapshot) ([]byte, error)
}

// FromPreviewer wraps PNG bytes from p as Memory resources.
func FromPreviewer(p Previewer) Renderer {
	return RendererFunc(func(ctx context.Context, src source.File, snap plan.Snapshot) (Resource, error) {
		data, err := p.Preview(ctx, src, snap)
		if err != nil {
			return nil, err
		}
		return NewMemory(data, "image/png"), nil
	})
}

// Result describes an applied preview.
type Result struct {
	RequestID uint64
	Snapshot  plan.Snapshot
	Resource  Resource
	Duration  time.Duration
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Renderer Renderer
	Manager  *Manager
	// Queue is shared with other request kinds. A private serial queue is
	// created when nil.
	Queue *queue.Queue[any]
	// OnError receives non-cancellation render failures.
	OnError func(error)
	// OnResult is called after a preview is published, with the pipeline
	// locked: calls arrive in publish order and the resource stays live until
	// the call returns. It must not call back into the Pipeline.
	OnResult func(Result)
}

// Status describes the processed slot.
type Status struct {
	State State
	// Outcome is how the last request settled; Idle when none has since the
	// source was selected.
	Outcome   State
	RequestID uint64
}

// Pipeline issues one render per submitted snapshot and applies only the
// newest. Submitting cancels the in-flight request; a completion whose id is
// no longer the latest is discarded and its resource released.
type Pipeline struct {
	renderer Renderer
	manager  *Manager
	queue    *queue.Queue[any]
	onError  func(error)
	onResult func(Result)

	// mu also serializes publishing so an older completion can never
	// overwrite a newer one.
	mu      sync.Mutex
	src     source.File
	latest  uint64
	state   State
	outcome State
	cancel  context.CancelFunc
	closed  bool

	wg sync.WaitGroup
}

type request struct {
	id   uint64
	snap plan.Snapshot
	once sync.Once
}

// NewPipeline returns a pipeline. Renderer and Manager are required.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	q := cfg.Queue
	if q == nil {
		q = queue.New[any]()
	}
	return &Pipeline{
		renderer: cfg.Renderer,
		manager:  cfg.Manager,
		queue:    q,
		onError:  cfg.OnError,
		onResult: cfg.OnResult,
	}
}

// SetSource switches to a new source file. Any pending request is disarmed
// and the manager shows the new original.
func (p *Pipeline) SetSource(src source.File, original Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disarmLocked()
	p.state = StateIdle
	p.outcome = StateIdle
	p.src = src
	p.manager.SetOriginal(original)
}

// Submit requests a preview for snap. An empty snapshot shows the original
// without rendering.
func (p *Pipeline) Submit(snap plan.Snapshot) uint64 {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	p.disarmLocked()
	id := p.latest

	if snap.Empty() {
		p.state = StateIdle
		p.outcome = StateSucceeded
		p.manager.ShowOriginal()
		p.mu.Unlock()
		log.Debug().Uint64("request_id", id).Msg("Empty plan, showing original")
		return id
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state = StatePending
	src := p.src
	p.wg.Add(1)
	p.mu.Unlock()

	req := &request{id: id, snap: snap}
	go p.run(ctx, req, src)

	log.Debug().
		Uint64("request_id", id).
		Uint64("plan_version", snap.Version()).
		Str("plan", snap.String()).
		Msg("Preview requested")
	return id
}

// disarmLocked cancels the in-flight request and advances the id so its
// completion is ignored.
func (p *Pipeline) disarmLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.latest++
}

// Cancel disarms any pending request and returns to idle.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disarmLocked()
	if p.state == StatePending {
		p.outcome = StateCancelled
	}
	p.state = StateIdle
}

func (p *Pipeline) run(ctx context.Context, req *request, src source.File) {
	defer p.wg.Done()

	start := time.Now()
	fut := p.queue.Enqueue(ctx, PriorityPreview, func(ctx context.Context) (any, error) {
		res, err := p.renderer.Render(ctx, src, req.snap)
		p.finish(req, res, err, time.Since(start))
		return nil, err
	})
	<-fut.Done()

	// Rejected before the job ran: settle as cancelled.
	p.finish(req, nil, context.Canceled, time.Since(start))
}

// finish settles req once. A resource arriving after req was settled is
// released.
func (p *Pipeline) finish(req *request, res Resource, err error, elapsed time.Duration) {
	handled := false
	req.once.Do(func() {
		handled = true
		p.complete(req, res, err, elapsed)
	})
	if !handled && res != nil {
		res.Release()
	}
}

func (p *Pipeline) complete(req *request, res Resource, err error, elapsed time.Duration) {
	if err == nil && res == nil {
		err = ErrNoPreview
	}

	p.mu.Lock()
	if p.closed || req.id != p.latest {
		p.mu.Unlock()
		if res != nil {
			res.Release()
		}
		log.Debug().Uint64("request_id", req.id).Msg("Discarded superseded preview")
		return
	}
	p.cancel = nil
	p.state = StateIdle

	if err == nil {
		p.outcome = StateSucceeded
		p.manager.Publish(res)
		log.Debug().
			Uint64("request_id", req.id).
			Dur("duration", elapsed).
			Int("bytes", len(res.Bytes())).
			Msg("Preview applied")
		if p.onResult != nil {
			p.onResult(Result{RequestID: req.id, Snapshot: req.snap, Resource: res, Duration: elapsed})
		}
		p.mu.Unlock()
		return
	}

	if res != nil {
		res.Release()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrCanceled) {
		p.outcome = StateCancelled
		p.mu.Unlock()
		return
	}

	p.outcome = StateFailed
	if p.manager.Current() == nil {
		p.manager.ShowOriginal()
	}
	p.mu.Unlock()

	log.Warn().Err(err).Uint64("request_id", req.id).Msg("Preview failed")
	if p.onError != nil {
		p.onError(err)
	}
}

// Status returns the slot state, the last outcome and the latest request id.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{State: p.state, Outcome: p.outcome, RequestID: p.latest}
}

// Close disarms the pipeline. Completions that arrive later are released.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.disarmLocked()
	p.closed = true
	p.state = StateIdle
}

// Wait blocks until every issued request has settled.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
