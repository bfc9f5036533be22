package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMissingField is returned when a snapshot field is absent.
	ErrMissingField = errors.New("missing field")
	// ErrTypeMismatch is returned when a snapshot field holds an unexpected type.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Fields is the durable state of one module, keyed by field name.
type Fields map[string]any

// Snapshot is the durable subset of an object's module state keyed by
// capability name. A missing capability means "use defaults".
type Snapshot map[string]Fields

// Clone returns a deep copy of the top two levels.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, f := range s {
		cp := make(Fields, len(f))
		for fk, fv := range f {
			cp[fk] = fv
		}
		out[k] = cp
	}
	return out
}

// Bool reads a boolean field.
func (f Fields) Bool(key string) (bool, error) {
	v, ok := f[key]
	if !ok {
		return false, fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: %w: got %T", key, ErrTypeMismatch, v)
	}
	return b, nil
}

// Float reads a numeric field. JSON round-trips turn every number into
// float64 or json.Number, so all numeric kinds are accepted.
func (f Fields) Float(key string) (float64, error) {
	v, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w: %v", key, ErrTypeMismatch, err)
		}
		return x, nil
	default:
		return 0, fmt.Errorf("%s: %w: got %T", key, ErrTypeMismatch, v)
	}
}

// Int reads an integral numeric field.
func (f Fields) Int(key string) (int64, error) {
	x, err := f.Float(key)
	if err != nil {
		return 0, err
	}
	if x != math.Trunc(x) {
		return 0, fmt.Errorf("%s: %w: %v is not integral", key, ErrTypeMismatch, x)
	}
	return int64(x), nil
}

// String reads a string field.
func (f Fields) String(key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: %w: got %T", key, ErrTypeMismatch, v)
	}
	return s, nil
}

// Strings reads a list of strings. Decoded JSON arrays ([]any) are accepted
// as long as every element is a string.
func (f Fields) Strings(key string) ([]string, error) {
	v, ok := f[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	switch x := v.(type) {
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out, nil
	case []any:
		out := make([]string, 0, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: %w: got %T", key, i, ErrTypeMismatch, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: %w: got %T", key, ErrTypeMismatch, v)
	}
}
