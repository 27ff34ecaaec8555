package plan

import (
	"encoding/json"
	"strings"
)

// Snapshot is an immutable copy of a plan taken at one point in time. The
// store may keep mutating after a snapshot is taken; the snapshot never
// observes those changes. Accessors return copies.
type Snapshot struct {
	version uint64
	ops     []Operation
}

// NewSnapshot builds a snapshot from ops, rejecting unknown and duplicate
// kinds. The version is zero.
func NewSnapshot(ops ...Operation) (Snapshot, error) {
	seen := make(map[Kind]bool, len(ops))
	copied := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if !op.Kind.Valid() {
			return Snapshot{}, &ValidationError{Kind: op.Kind, Err: ErrUnknownKind}
		}
		if seen[op.Kind] {
			return Snapshot{}, &ValidationError{Kind: op.Kind, Err: ErrDuplicateKind}
		}
		seen[op.Kind] = true
		copied = append(copied, op.Clone())
	}
	return Snapshot{ops: copied}, nil
}

// MustSnapshot is NewSnapshot for literals known to be valid.
func MustSnapshot(ops ...Operation) Snapshot {
	s, err := NewSnapshot(ops...)
	if err != nil {
		panic(err)
	}
	return s
}

// Version is the store version that produced the snapshot. Zero for
// snapshots not taken from a Store.
func (s Snapshot) Version() uint64 { return s.version }

// Len returns the number of operations.
func (s Snapshot) Len() int { return len(s.ops) }

// Empty reports whether the plan has no operations.
func (s Snapshot) Empty() bool { return len(s.ops) == 0 }

// Ops returns a deep copy of the operations in plan order.
func (s Snapshot) Ops() []Operation {
	out := make([]Operation, len(s.ops))
	for i, op := range s.ops {
		out[i] = op.Clone()
	}
	return out
}

// Get returns the operation of the given kind.
func (s Snapshot) Get(kind Kind) (Operation, bool) {
	for _, op := range s.ops {
		if op.Kind == kind {
			return op.Clone(), true
		}
	}
	return Operation{}, false
}

// Kinds returns the kinds present, in plan order.
func (s Snapshot) Kinds() []Kind {
	kinds := make([]Kind, len(s.ops))
	for i, op := range s.ops {
		kinds[i] = op.Kind
	}
	return kinds
}

// Equal compares operations and order; versions are ignored.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.ops) != len(o.ops) {
		return false
	}
	for i := range s.ops {
		if !s.ops[i].Equal(o.ops[i]) {
			return false
		}
	}
	return true
}

func (s Snapshot) String() string {
	if len(s.ops) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(s.ops))
	for i, op := range s.ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, " -> ")
}

// MarshalJSON encodes the ordered operation list.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.ops == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ops)
}

// UnmarshalJSON decodes an operation list, enforcing kind uniqueness.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return err
	}
	decoded, err := NewSnapshot(ops...)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}
