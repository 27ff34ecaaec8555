// Package plan holds the editable transformation plan: an ordered list of
// operations with at most one operation per kind, the immutable snapshots
// handed to preview requests, and the observable Store that owns the live
// plan.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind names an operation variant.
type Kind string

// Supported operation kinds.
const (
	KindResize    Kind = "resize"
	KindDenoise   Kind = "denoise"
	KindNormalize Kind = "normalize"
	KindAugment   Kind = "augment"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindResize, KindDenoise, KindNormalize, KindAugment}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Operation is one step of a plan. The wire form is a flat JSON object with
// the kind under "op", e.g. {"op":"resize","height":224,"width":224}.
type Operation struct {
	Kind   Kind
	Params map[string]Value
}

// NewOperation builds an operation, copying params.
func NewOperation(kind Kind, params map[string]Value) Operation {
	op := Operation{Kind: kind, Params: make(map[string]Value, len(params))}
	for k, v := range params {
		op.Params[k] = v
	}
	return op
}

// DefaultOperation returns the built-in defaults for kind.
func DefaultOperation(kind Kind) Operation {
	switch kind {
	case KindResize:
		return NewOperation(kind, map[string]Value{"width": Int(224), "height": Int(224)})
	case KindDenoise:
		return NewOperation(kind, map[string]Value{"method": Enum("gaussian"), "ksize": Int(5)})
	case KindNormalize:
		return NewOperation(kind, map[string]Value{"method": Enum("minmax")})
	case KindAugment:
		return NewOperation(kind, map[string]Value{
			"mode":     Enum("deterministic"),
			"rotation": Int(0),
			"zoom":     Number(1.0),
			"h_flip":   Bool(false),
			"v_flip":   Bool(false),
		})
	}
	return NewOperation(kind, nil)
}

// Param returns the named parameter.
func (o Operation) Param(name string) (Value, bool) {
	v, ok := o.Params[name]
	return v, ok
}

// Number returns a numeric parameter or def when absent or not numeric.
func (o Operation) Number(name string, def float64) float64 {
	if f, ok := o.Params[name].Float(); ok {
		return f
	}
	return def
}

// IntParam returns a numeric parameter rounded to int, or def.
func (o Operation) IntParam(name string, def int) int {
	if n, ok := o.Params[name].Int(); ok {
		return n
	}
	return def
}

// EnumParam returns an enum parameter or def.
func (o Operation) EnumParam(name, def string) string {
	if s, ok := o.Params[name].Enum(); ok {
		return s
	}
	return def
}

// BoolParam returns a boolean parameter or def.
func (o Operation) BoolParam(name string, def bool) bool {
	if b, ok := o.Params[name].Bool(); ok {
		return b
	}
	return def
}

// ParamNames returns parameter names in sorted order.
func (o Operation) ParamNames() []string {
	names := make([]string, 0, len(o.Params))
	for k := range o.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of o.
func (o Operation) Clone() Operation {
	return NewOperation(o.Kind, o.Params)
}

// Equal reports whether o and other have the same kind and parameters.
func (o Operation) Equal(other Operation) bool {
	if o.Kind != other.Kind || len(o.Params) != len(other.Params) {
		return false
	}
	for k, v := range o.Params {
		ov, ok := other.Params[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (o Operation) String() string {
	names := o.ParamNames()
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+"="+o.Params[n].String())
	}
	return fmt.Sprintf("%s(%s)", o.Kind, strings.Join(parts, ","))
}

// MarshalJSON writes "op" first followed by parameters in sorted order so
// the same plan always serializes to the same bytes.
func (o Operation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"op":`)
	kind, err := json.Marshal(string(o.Kind))
	if err != nil {
		return nil, err
	}
	buf.Write(kind)

	for _, name := range o.ParamNames() {
		if name == "op" {
			continue
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := o.Params[name].MarshalJSON()
		if err != nil {
			return nil, &ValidationError{Kind: o.Kind, Param: name, Err: err}
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the flat wire form. Unknown kinds are rejected.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var kind string
	rawKind, ok := raw["op"]
	if !ok {
		return &ValidationError{Err: fmt.Errorf("%w: missing \"op\"", ErrUnknownKind)}
	}
	if err := json.Unmarshal(rawKind, &kind); err != nil {
		return &ValidationError{Err: fmt.Errorf("%w: %s", ErrUnknownKind, rawKind)}
	}
	if !Kind(kind).Valid() {
		return &ValidationError{Kind: Kind(kind), Err: ErrUnknownKind}
	}

	params := make(map[string]Value, len(raw)-1)
	for name, msg := range raw {
		if name == "op" {
			continue
		}
		var v Value
		if err := v.UnmarshalJSON(msg); err != nil {
			return &ValidationError{Kind: Kind(kind), Param: name, Err: err}
		}
		params[name] = v
	}

	*o = Operation{Kind: Kind(kind), Params: params}
	return nil
}
