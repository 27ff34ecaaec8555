// Package queue runs asynchronous jobs in priority order. Higher priorities
// run first; equal priorities run in submission order. CancelAll aborts
// everything queued or running and leaves the queue ready for new work.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrCanceled rejects futures of jobs aborted by CancelAll.
	ErrCanceled = errors.New("queue: job canceled")
	// ErrClosed rejects jobs enqueued after Close.
	ErrClosed = errors.New("queue: closed")
)

// Func is the unit of work. It should return promptly once ctx is done.
type Func[T any] func(ctx context.Context) (T, error)

// Option configures a Queue.
type Option func(*options)

type options struct {
	concurrency int
}

// WithConcurrency lets up to n jobs run at once. Jobs are still started in
// priority order. Values below 1 mean serial.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// Queue is a priority job queue. The zero value is not usable; call New.
type Queue[T any] struct {
	concurrency int

	mu       sync.Mutex
	items    jobHeap[T]
	inflight map[*job[T]]struct{}
	nextID   uint64
	active   int
	// epoch is bumped by CancelAll; completions from an older epoch do not
	// touch the active count.
	epoch  uint64
	closed bool
}

// New returns an empty queue. Serial unless WithConcurrency is given.
func New[T any](opts ...Option) *Queue[T] {
	o := options{concurrency: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[T]{
		concurrency: o.concurrency,
		inflight:    make(map[*job[T]]struct{}),
	}
}

// Enqueue schedules fn at priority and returns its future. The job's context
// is derived from ctx and is canceled by CancelAll.
func (q *Queue[T]) Enqueue(ctx context.Context, priority int, fn Func[T]) *Future[T] {
	fut := newFuture[T]()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		var zero T
		fut.resolve(zero, ErrClosed)
		return fut
	}

	jctx, cancel := context.WithCancel(ctx)
	q.nextID++
	j := &job[T]{
		id:       q.nextID,
		priority: priority,
		ctx:      jctx,
		cancel:   cancel,
		fn:       fn,
		future:   fut,
	}
	heap.Push(&q.items, j)
	q.dispatchLocked()
	return fut
}

// dispatchLocked starts jobs while there is capacity.
func (q *Queue[T]) dispatchLocked() {
	for q.active < q.concurrency && q.items.Len() > 0 {
		j := heap.Pop(&q.items).(*job[T])
		q.active++
		q.inflight[j] = struct{}{}
		go q.run(j, q.epoch)
	}
}

func (q *Queue[T]) run(j *job[T], epoch uint64) {
	var (
		val T
		err error
	)
	if err = j.ctx.Err(); err == nil {
		val, err = j.fn(j.ctx)
	}
	j.cancel()

	q.mu.Lock()
	if epoch == q.epoch {
		q.active--
		delete(q.inflight, j)
		q.dispatchLocked()
	}
	q.mu.Unlock()

	// No-op when CancelAll already rejected the future.
	j.future.resolve(val, err)
}

// CancelAll aborts every queued and running job. Their futures are rejected
// with ErrCanceled. Jobs enqueued afterwards run normally even if an aborted
// job ignores its context and keeps running.
func (q *Queue[T]) CancelAll() int {
	q.mu.Lock()
	aborted := make([]*job[T], 0, q.items.Len()+len(q.inflight))
	aborted = append(aborted, q.items...)
	for j := range q.inflight {
		aborted = append(aborted, j)
	}
	q.items = nil
	q.inflight = make(map[*job[T]]struct{})
	q.active = 0
	q.epoch++
	q.mu.Unlock()

	var zero T
	for _, j := range aborted {
		j.cancel()
		j.future.resolve(zero, ErrCanceled)
	}
	if len(aborted) > 0 {
		log.Debug().Int("jobs", len(aborted)).Msg("Queue canceled")
	}
	return len(aborted)
}

// Pending reports queued plus running jobs.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() + q.active
}

// Close cancels all work and rejects later Enqueue calls with ErrClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.CancelAll()
}

type job[T any] struct {
	id       uint64
	priority int
	ctx      context.Context
	cancel   context.CancelFunc
	fn       Func[T]
	future   *Future[T]
}

// jobHeap orders by priority descending, then id ascending.
type jobHeap[T any] []*job[T]

func (h jobHeap[T]) Len() int { return len(h) }

func (h jobHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].id < h[j].id
}

func (h jobHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap[T]) Push(x any) { *h = append(*h, x.(*job[T])) }

func (h *jobHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
