package fieldstore

import (
	"fmt"
	"math"

	"github.com/c360/ntscope/errors"
)

// Reviver coerces a decoded scalar back into the canonical Go type of a
// primitive kind.
type Reviver func(v any) (any, error)

// ValueRegistry maps primitive kinds to revivers. It restores values read
// back from a snapshot, where encodings lose Go types (integers arrive as
// uint64, floats widen, arrays arrive as []any).
type ValueRegistry struct {
	revivers map[Kind]Reviver
}

// NewValueRegistry creates an empty registry.
func NewValueRegistry() *ValueRegistry {
	return &ValueRegistry{revivers: make(map[Kind]Reviver)}
}

// DefaultValueRegistry covers every primitive kind.
func DefaultValueRegistry() *ValueRegistry {
	r := NewValueRegistry()
	r.Register(KindBoolean, reviveBool)
	r.Register(KindInt, reviveInt)
	r.Register(KindFloat, reviveFloat32)
	r.Register(KindDouble, reviveFloat64)
	r.Register(KindString, reviveString)
	r.Register(KindJSON, reviveString)
	for _, k := range []Kind{KindRaw, KindRPC, KindMsgPack, KindProtobuf, KindStructSchema} {
		r.Register(k, reviveBytes)
	}
	return r
}

// Register sets the reviver for k, replacing any previous one.
func (r *ValueRegistry) Register(k Kind, fn Reviver) {
	r.revivers[k] = fn
}

// Revive converts v to the canonical representation for a field of type t.
// Untyped fields keep v unchanged.
func (r *ValueRegistry) Revive(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch typ := t.(type) {
	case nil:
		return v, nil
	case Struct:
		return r.scalar(KindRaw, v)
	case Primitive:
		return r.scalar(typ.Kind, v)
	case Array:
		switch elem := typ.Elem.(type) {
		case Struct:
			return r.scalar(KindRaw, v)
		case Primitive:
			return r.array(elem.Kind, v)
		default:
			return nil, fmt.Errorf("%w: %s", errors.ErrUnknownType, TypeString(t))
		}
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownType, TypeString(t))
	}
}

func (r *ValueRegistry) scalar(k Kind, v any) (any, error) {
	fn, ok := r.revivers[k]
	if !ok {
		return nil, fmt.Errorf("%w: no reviver for %s", errors.ErrUnknownType, k)
	}
	return fn(v)
}

func (r *ValueRegistry) array(k Kind, v any) (any, error) {
	items, ok := elements(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s array is %T", errors.ErrUnknownType, k, v)
	}

	switch k {
	case KindBoolean:
		return reviveSlice[bool](r, k, items)
	case KindInt:
		return reviveSlice[int64](r, k, items)
	case KindFloat:
		return reviveSlice[float32](r, k, items)
	case KindDouble:
		return reviveSlice[float64](r, k, items)
	case KindString, KindJSON:
		return reviveSlice[string](r, k, items)
	default:
		return reviveSlice[any](r, k, items)
	}
}

func reviveSlice[T any](r *ValueRegistry, k Kind, items []any) ([]T, error) {
	out := make([]T, len(items))
	for i, item := range items {
		v, err := r.scalar(k, item)
		if err != nil {
			return nil, err
		}
		typed, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %s element %d is %T", errors.ErrUnknownType, k, i, v)
		}
		out[i] = typed
	}
	return out, nil
}

func reviveBool(v any) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return nil, mismatch("boolean", v)
}

func reviveInt(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, mismatch("int", v)
		}
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, mismatch("int", v)
		}
		return int64(n), nil
	default:
		return nil, mismatch("int", v)
	}
}

func reviveFloat64(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return nil, mismatch("double", v)
	}
}

func reviveFloat32(v any) (any, error) {
	d, err := reviveFloat64(v)
	if err != nil {
		return nil, mismatch("float", v)
	}
	return float32(d.(float64)), nil
}

func reviveString(v any) (any, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return nil, mismatch("string", v)
}

func reviveBytes(v any) (any, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, mismatch("raw", v)
	}
}

func mismatch(kind string, v any) error {
	return fmt.Errorf("%w: %T is not a %s value", errors.ErrUnknownType, v, kind)
}
