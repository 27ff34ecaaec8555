package plan

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Listener receives the plan after every change.
type Listener func(Snapshot)

type subscription struct {
	id uint64
	fn Listener
}

// Store owns the live plan. It has a single writer (the editing layer);
// subscribers are notified synchronously, in subscription order, after
// every call that changes the plan. Calls that leave the plan unchanged
// (adding a kind that is already present, removing an absent kind, setting
// a parameter to its current value) do not notify.
//
// Listeners must not mutate the store.
type Store struct {
	// notifyMu serializes mutate+notify so listeners observe versions in order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	ops       []Operation
	baseline  map[Kind]Operation
	version   uint64
	subs      []subscription
	nextSubID uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{baseline: make(map[Kind]Operation)}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SetBaseline records the generated plan whose operations serve as the
// defaults for Add. It does not change the live plan.
func (s *Store) SetBaseline(base Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = make(map[Kind]Operation, base.Len())
	for _, op := range base.ops {
		s.baseline[op.Kind] = op.Clone()
	}
}

// Add appends an operation of kind with default parameters. It is a no-op
// when the kind is already present.
func (s *Store) Add(kind Kind) error {
	if !kind.Valid() {
		return &ValidationError{Kind: kind, Err: ErrUnknownKind}
	}
	s.mutate(func() bool {
		if s.indexLocked(kind) >= 0 {
			return false
		}
		op, ok := s.baseline[kind]
		if !ok {
			op = DefaultOperation(kind)
		}
		s.ops = append(s.ops, op.Clone())
		return true
	})
	return nil
}

// Remove deletes the operation of kind if present.
func (s *Store) Remove(kind Kind) {
	s.mutate(func() bool {
		i := s.indexLocked(kind)
		if i < 0 {
			return false
		}
		s.ops = append(s.ops[:i:i], s.ops[i+1:]...)
		return true
	})
}

// SetParam replaces one parameter of the operation of kind. It fails with a
// ValidationError wrapping ErrNotFound when the kind is absent.
func (s *Store) SetParam(kind Kind, name string, value Value) error {
	var missing bool
	s.mutate(func() bool {
		i := s.indexLocked(kind)
		if i < 0 {
			missing = true
			return false
		}
		if cur, ok := s.ops[i].Params[name]; ok && cur.Equal(value) {
			return false
		}
		// Copy on write: snapshots share nothing with the live plan.
		updated := s.ops[i].Clone()
		updated.Params[name] = value
		s.ops[i] = updated
		return true
	})
	if missing {
		return &ValidationError{Kind: kind, Param: name, Err: ErrNotFound}
	}
	return nil
}

// Replace swaps in a whole plan, e.g. a freshly generated one or the empty
// plan of a newly selected source. Subscribers are always notified.
func (s *Store) Replace(next Snapshot) {
	s.mutate(func() bool {
		s.ops = next.Ops()
		return true
	})
}

// Snapshot returns an immutable copy of the live plan.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Version counts plan changes since the store was created.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Store) mutate(change func() bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !change() {
		s.mu.Unlock()
		return
	}
	s.version++
	snap := s.snapshotLocked()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	log.Debug().
		Uint64("version", snap.version).
		Int("ops", snap.Len()).
		Int("subscribers", len(subs)).
		Msg("Plan changed")

	for _, sub := range subs {
		sub.fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	ops := make([]Operation, len(s.ops))
	for i, op := range s.ops {
		ops[i] = op.Clone()
	}
	return Snapshot{version: s.version, ops: ops}
}

func (s *Store) indexLocked(kind Kind) int {
	for i, op := range s.ops {
		if op.Kind == kind {
			return i
		}
	}
	return -1
}
