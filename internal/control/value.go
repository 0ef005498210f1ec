package control

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"qcbridge/internal/engine"
)

// Value is a tagged scalar: exactly one of Num, Bool, or Str is meaningful,
// as indicated by Kind. This mirrors the engine's own dynamically-typed
// control values without resorting to `any` at call sites.
type Value struct {
	Kind ValueTag
	Num  float64
	Bool bool
	Str  string
}

type ValueTag int

const (
	TagNumber ValueTag = iota
	TagBoolean
	TagString
)

func Number(v float64) Value { return Value{Kind: TagNumber, Num: v} }
func Boolean(v bool) Value   { return Value{Kind: TagBoolean, Bool: v} }
func String(v string) Value  { return Value{Kind: TagString, Str: v} }

// Equal reports scalar equality, per §4.5: strings compare byte-wise,
// numbers compare by value, booleans by value. Values of different Kind
// are never equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case TagNumber:
		return v.Num == o.Num
	case TagBoolean:
		return v.Bool == o.Bool
	case TagString:
		return v.Str == o.Str
	default:
		return false
	}
}

// Display renders the value's string form, used for ChangeEvent.String and
// for engine writes of string-typed controls.
func (v Value) Display() string {
	switch v.Kind {
	case TagNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case TagBoolean:
		if v.Bool {
			return "1"
		}
		return "0"
	case TagString:
		return v.Str
	default:
		return ""
	}
}

// Any returns the value unwrapped as an `any`, for handing to the engine
// client interface.
func (v Value) Any() any {
	switch v.Kind {
	case TagNumber:
		return v.Num
	case TagBoolean:
		return v.Bool
	case TagString:
		return v.Str
	default:
		return nil
	}
}

// FromAny wraps a raw value (as returned by the engine SDK) into a Value,
// inferring Kind from the Go type.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case bool:
		return Boolean(x)
	case string:
		return String(x)
	default:
		return String(fmt.Sprintf("%v", raw))
	}
}

// Delta returns the numeric difference current-previous, and whether both
// values were numeric (the only case a delta is meaningful, per §3).
func Delta(current, previous Value) (float64, bool) {
	if current.Kind != TagNumber || previous.Kind != TagNumber {
		return 0, false
	}
	return current.Num - previous.Num, true
}

// Coerce validates and normalizes a raw write value against declared
// control metadata, per the table in spec §4.7. When meta is nil, the
// value passes through unchanged (validation is only possible when
// metadata is available).
func Coerce(raw any, meta *engine.ControlMeta, maxStringLen int) (Value, error) {
	if meta == nil {
		return FromAny(raw), nil
	}

	switch meta.Type {
	case engine.KindBoolean:
		return coerceBoolean(raw)
	case engine.KindNumber, engine.KindInteger, engine.KindFloat:
		return coerceNumber(raw, meta)
	case engine.KindString:
		return coerceString(raw, meta, maxStringLen)
	default:
		return FromAny(raw), nil
	}
}

func coerceBoolean(raw any) (Value, error) {
	switch x := raw.(type) {
	case bool:
		return Boolean(x), nil
	case float64:
		if x == 0 {
			return Boolean(false), nil
		}
		if x == 1 {
			return Boolean(true), nil
		}
	case int:
		if x == 0 {
			return Boolean(false), nil
		}
		if x == 1 {
			return Boolean(true), nil
		}
	case string:
		switch strings.TrimSpace(x) {
		case "0", "false":
			return Boolean(false), nil
		case "1", "true":
			return Boolean(true), nil
		}
	}
	return Value{}, fmt.Errorf("%w: expected boolean (true/false, 0/1), got %v", ErrInvalidArgument, raw)
}

func coerceNumber(raw any, meta *engine.ControlMeta) (Value, error) {
	var n float64
	switch x := raw.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not numeric", ErrInvalidArgument, x)
		}
		n = parsed
	default:
		return Value{}, fmt.Errorf("%w: expected a number, got %v", ErrInvalidArgument, raw)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Value{}, fmt.Errorf("%w: value is not finite", ErrInvalidArgument)
	}
	if meta.Min != nil && n < *meta.Min {
		return Value{}, fmt.Errorf("%w: %g is below minimum %g", ErrInvalidArgument, n, *meta.Min)
	}
	if meta.Max != nil && n > *meta.Max {
		return Value{}, fmt.Errorf("%w: %g is above maximum %g", ErrInvalidArgument, n, *meta.Max)
	}
	return Number(n), nil
}

func coerceString(raw any, meta *engine.ControlMeta, defaultMaxLen int) (Value, error) {
	s, ok := raw.(string)
	if !ok {
		switch raw.(type) {
		case []any, map[string]any:
			return Value{}, fmt.Errorf("%w: string control cannot accept an object or array", ErrInvalidArgument)
		}
		s = fmt.Sprintf("%v", raw)
	}
	maxLen := defaultMaxLen
	if meta.MaxLength != nil {
		maxLen = *meta.MaxLength
	}
	if maxLen > 0 && len(s) > maxLen {
		return Value{}, fmt.Errorf("%w: string length %d exceeds maximum %d", ErrInvalidArgument, len(s), maxLen)
	}
	return String(s), nil
}
