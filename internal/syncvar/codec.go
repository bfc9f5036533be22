package syncvar

import (
	"encoding/json"
	"fmt"
)

// Codec turns a value into its wire form and back.
type Codec[T any] interface {
	Encode(v T) (json.RawMessage, error)
	Decode(cur T, raw json.RawMessage) (T, error)
}

// DeltaCodec additionally encodes only what changed since a baseline.
type DeltaCodec[T any] interface {
	Codec[T]
	Diff(prev, next T) (json.RawMessage, error)
	Patch(cur T, raw json.RawMessage) (T, error)
}

// JSON is the default full-value codec.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) (json.RawMessage, error) {
	return json.Marshal(v)
}

func (JSON[T]) Decode(_ T, raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// Float32s is a delta codec for indexed float vectors: a delta is the map
// of changed indices.
type Float32s struct{}

func (Float32s) Encode(v []float32) (json.RawMessage, error) {
	return json.Marshal(v)
}

func (Float32s) Decode(_ []float32, raw json.RawMessage) ([]float32, error) {
	var v []float32
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (Float32s) Diff(prev, next []float32) (json.RawMessage, error) {
	changed := make(map[int]float32)
	for i, x := range next {
		if i >= len(prev) || prev[i] != x {
			changed[i] = x
		}
	}
	return json.Marshal(changed)
}

func (Float32s) Patch(cur []float32, raw json.RawMessage) ([]float32, error) {
	var changed map[int]float32
	if err := json.Unmarshal(raw, &changed); err != nil {
		return nil, err
	}
	size := len(cur)
	for i := range changed {
		if i < 0 {
			return nil, fmt.Errorf("negative index %d", i)
		}
		if i >= size {
			size = i + 1
		}
	}
	out := make([]float32, size)
	copy(out, cur)
	for i, x := range changed {
		out[i] = x
	}
	return out, nil
}
