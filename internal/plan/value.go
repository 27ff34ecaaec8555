package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType identifies which variant a Value holds.
type ValueType int

const (
	TypeNumber ValueType = iota
	TypeEnum
	TypeBool
	TypePair
)

func (t ValueType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeEnum:
		return "enum"
	case TypeBool:
		return "bool"
	case TypePair:
		return "pair"
	default:
		return "unknown"
	}
}

// Value is a single operation parameter: a number, an enum string, a
// boolean, or a numeric pair (e.g. brightness_range).
type Value struct {
	typ  ValueType
	num  float64
	str  string
	flag bool
	pair [2]float64
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{typ: TypeNumber, num: f} }

// Int returns a numeric Value holding n.
func Int(n int) Value { return Number(float64(n)) }

// Enum returns an enum Value such as "gaussian" or "minmax".
func Enum(s string) Value { return Value{typ: TypeEnum, str: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{typ: TypeBool, flag: b} }

// Pair returns a numeric pair Value.
func Pair(a, b float64) Value { return Value{typ: TypePair, pair: [2]float64{a, b}} }

// Type reports the variant held by v.
func (v Value) Type() ValueType { return v.typ }

// Float returns the numeric value. ok is false for non-numeric values.
func (v Value) Float() (f float64, ok bool) {
	if v.typ != TypeNumber {
		return 0, false
	}
	return v.num, true
}

// Int returns the numeric value rounded to the nearest integer.
func (v Value) Int() (n int, ok bool) {
	if v.typ != TypeNumber {
		return 0, false
	}
	return int(math.Round(v.num)), true
}

// Enum returns the enum string. ok is false for non-enum values.
func (v Value) Enum() (s string, ok bool) {
	if v.typ != TypeEnum {
		return "", false
	}
	return v.str, true
}

// Bool returns the boolean value. ok is false for non-boolean values.
func (v Value) Bool() (b bool, ok bool) {
	if v.typ != TypeBool {
		return false, false
	}
	return v.flag, true
}

// Pair returns the numeric pair. ok is false for non-pair values.
func (v Value) Pair() (p [2]float64, ok bool) {
	if v.typ != TypePair {
		return [2]float64{}, false
	}
	return v.pair, true
}

// Equal reports whether v and o hold the same variant and value.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNumber:
		return v.num == o.num
	case TypeEnum:
		return v.str == o.str
	case TypeBool:
		return v.flag == o.flag
	case TypePair:
		return v.pair == o.pair
	}
	return false
}

func (v Value) String() string {
	switch v.typ {
	case TypeNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case TypeEnum:
		return v.str
	case TypeBool:
		return strconv.FormatBool(v.flag)
	case TypePair:
		return fmt.Sprintf("%s,%s",
			strconv.FormatFloat(v.pair[0], 'f', -1, 64),
			strconv.FormatFloat(v.pair[1], 'f', -1, 64))
	}
	return ""
}

// MarshalJSON encodes numbers, strings and booleans as JSON scalars and a
// pair as a two-element array.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("%w: non-finite number", ErrInvalidValue)
		}
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	case TypeEnum:
		return json.Marshal(v.str)
	case TypeBool:
		return json.Marshal(v.flag)
	case TypePair:
		return json.Marshal(v.pair)
	}
	return nil, fmt.Errorf("%w: unknown value type %d", ErrInvalidValue, v.typ)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidValue)
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		*v = Enum(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		*v = Bool(b)
	case '[':
		var arr []float64
		if err := json.Unmarshal(data, &arr); err != nil || len(arr) != 2 {
			return fmt.Errorf("%w: pair must be two numbers: %s", ErrInvalidValue, data)
		}
		*v = Pair(arr[0], arr[1])
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidValue, data)
		}
		*v = Number(f)
	}
	return nil
}

// ParseValue interprets free text typed by a user: "true"/"false" become
// booleans, numbers become numbers, "a,b" with two numbers becomes a pair,
// anything else is an enum.
func ParseValue(s string) Value {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(f)
	}
	if a, b, ok := strings.Cut(s, ","); ok {
		fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
		fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if errA == nil && errB == nil {
			return Pair(fa, fb)
		}
	}
	return Enum(s)
}
