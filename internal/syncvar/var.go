package syncvar

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
)

// Result reports what applying an inbound entry did.
type Result uint8

const (
	Applied Result = iota
	Unchanged
	Stale
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	default:
		return "stale"
	}
}

// Handle is the type-erased view of a Var used by the replication layer.
type Handle interface {
	Name() string
	Rule() Rule
	Dirty() bool
	MarkFull()
	Encode(epoch uint64) (streaming.Entry, error)
	Apply(from core.PartyID, e streaming.Entry, tick uint64) (Result, error)
	LastUpdate() uint64
}

// Option configures a Var.
type Option[T any] func(*Var[T])

// WithCodec replaces the default JSON codec.
func WithCodec[T any](c Codec[T]) Option[T] {
	return func(v *Var[T]) { v.codec = c }
}

// WithEqual replaces the reflect.DeepEqual comparison used to detect changes.
func WithEqual[T any](eq func(a, b T) bool) Option[T] {
	return func(v *Var[T]) { v.equal = eq }
}

// Var is a dirty-tracked value annotated with a replication rule.
//
// The dirty flag is set by every local mutation and cleared exactly once,
// when the value is encoded into an outgoing batch. Setting a value equal
// to the current one is not a mutation.
type Var[T any] struct {
	mu    sync.RWMutex
	name  string
	rule  Rule
	codec Codec[T]
	equal func(a, b T) bool

	value T
	dirty bool
	full  bool

	// outbound
	seq     uint64
	sent    T
	hasSent bool

	// inbound
	lastFrom   core.PartyID
	lastEpoch  uint64
	lastSeq    uint64
	lastUpdate uint64

	onReceive func(prev, next T)
}

// New creates a variable holding initial.
func New[T any](name string, rule Rule, initial T, opts ...Option[T]) *Var[T] {
	v := &Var[T]{
		name:  name,
		rule:  rule,
		codec: JSON[T]{},
		equal: func(a, b T) bool { return reflect.DeepEqual(a, b) },
		value: initial,
		full:  true,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Var[T]) Name() string { return v.name }
func (v *Var[T]) Rule() Rule   { return v.rule }

// Get returns the latest value, local or applied.
func (v *Var[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores a new value and marks the variable dirty. The variable takes
// ownership of x; callers must not mutate it afterwards.
func (v *Var[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.equal(v.value, x) {
		return
	}
	v.value = x
	v.dirty = true
}

// Dirty reports whether a local change is waiting to be shipped.
func (v *Var[T]) Dirty() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dirty
}

// MarkFull forces the next encode to carry the full value.
func (v *Var[T]) MarkFull() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.full = true
	v.dirty = true
}

// LastUpdate is the tick of the last inbound entry, applied or identical.
func (v *Var[T]) LastUpdate() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastUpdate
}

// OnReceive installs a hook run for inbound changes, before the new value
// is stored. Identical or stale values never reach it.
func (v *Var[T]) OnReceive(fn func(prev, next T)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onReceive = fn
}

// Encode serializes the current value for an outgoing batch and clears
// the dirty flag.
func (v *Var[T]) Encode(epoch uint64) (streaming.Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry := streaming.Entry{Var: v.name, Epoch: epoch}
	dc, isDelta := v.codec.(DeltaCodec[T])
	var err error
	if v.rule.Mode == ModeDelta && isDelta && v.hasSent && !v.full {
		entry.Value, err = dc.Diff(v.sent, v.value)
		entry.Delta = true
	} else {
		entry.Value, err = v.codec.Encode(v.value)
	}
	if err != nil {
		return streaming.Entry{}, fmt.Errorf("encode %s: %w", v.name, err)
	}

	v.seq++
	entry.Seq = v.seq
	v.sent = v.value
	v.hasSent = true
	v.full = false
	v.dirty = false
	return entry, nil
}

// Apply decodes an inbound entry sent by from. Sequence numbers are per
// sender: from the same sender, entries not newer than the last applied
// (epoch, seq) pair are stale; a different sender only has to be on the
// same or a newer epoch.
func (v *Var[T]) Apply(from core.PartyID, e streaming.Entry, tick uint64) (Result, error) {
	v.mu.Lock()
	if v.stale(from, e) {
		v.mu.Unlock()
		return Stale, nil
	}

	var next T
	var err error
	if e.Delta {
		dc, ok := v.codec.(DeltaCodec[T])
		if !ok {
			v.mu.Unlock()
			return Stale, fmt.Errorf("apply %s: delta entry for full-only codec", v.name)
		}
		next, err = dc.Patch(v.value, e.Value)
	} else {
		next, err = v.codec.Decode(v.value, e.Value)
	}
	if err != nil {
		v.mu.Unlock()
		return Stale, fmt.Errorf("apply %s: %w", v.name, err)
	}

	v.lastFrom, v.lastEpoch, v.lastSeq = from, e.Epoch, e.Seq
	v.lastUpdate = tick
	prev := v.value
	changed := !v.equal(prev, next)
	hook := v.onReceive
	if !changed {
		v.dirty = false
		v.mu.Unlock()
		return Unchanged, nil
	}
	v.mu.Unlock()

	// The value lands even if the hook panics, so the accepted seq and the
	// stored value never disagree.
	defer func() {
		v.mu.Lock()
		v.value = next
		v.dirty = false
		v.mu.Unlock()
	}()
	if hook != nil {
		hook(prev, next)
	}
	return Applied, nil
}

func (v *Var[T]) stale(from core.PartyID, e streaming.Entry) bool {
	if e.Epoch < v.lastEpoch {
		return true
	}
	return from == v.lastFrom && e.Epoch == v.lastEpoch && e.Seq <= v.lastSeq
}
