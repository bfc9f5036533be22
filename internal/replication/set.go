package replication

import (
	"errors"
	"fmt"
	"sync"

	"github.com/modsync/vehicle/internal/syncvar"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
)

var (
	ErrUnknownVariable   = errors.New("unknown variable")
	ErrDuplicateVariable = errors.New("duplicate variable")
)

// Stats counts the outcome of applying one inbound batch.
type Stats struct {
	Applied   int
	Unchanged int
	Stale     int
	Rejected  int
	Unknown   int
	Failed    int
}

// Set holds the synchronized variables of one object, in registration order.
type Set struct {
	mu          sync.Mutex
	vars        []syncvar.Handle
	byName      map[string]syncvar.Handle
	originating map[string]bool
}

// NewSet creates an empty variable set.
func NewSet() *Set {
	return &Set{
		byName:      make(map[string]syncvar.Handle),
		originating: make(map[string]bool),
	}
}

// Register adds a variable. Names are unique within an object.
func (s *Set) Register(h syncvar.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[h.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVariable, h.Name())
	}
	s.vars = append(s.vars, h)
	s.byName[h.Name()] = h
	return nil
}

// Get returns the variable registered under name.
func (s *Set) Get(name string) (syncvar.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byName[name]
	return h, ok
}

// Len returns the number of registered variables.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vars)
}

// MarkFull forces every variable the local party originates to be shipped
// in full on the next collect.
func (s *Set) MarkFull(v core.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.vars {
		if h.Rule().MayOriginate(v) {
			h.MarkFull()
		}
	}
}

// Collect encodes every dirty variable the local party may originate and
// clears its dirty flag. A variable the local party just started
// originating is shipped in full even if untouched, so receivers get a
// baseline from the new sender.
func (s *Set) Collect(v core.View) ([]streaming.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []streaming.Entry
	var errs []error
	for _, h := range s.vars {
		name := h.Name()
		may := h.Rule().MayOriginate(v)
		if may && !s.originating[name] {
			h.MarkFull()
		}
		s.originating[name] = may
		if !may || !h.Dirty() {
			continue
		}
		e, err := h.Encode(v.Epoch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errors.Join(errs...)
}

// Apply applies an inbound batch sent by from, in entry order. Entries the
// rule does not let from send to the local party are dropped without
// touching the variable.
func (s *Set) Apply(batch streaming.BatchPayload, from core.PartyID, v core.View, tick uint64) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	var errs []error
	for _, e := range batch.Entries {
		h, ok := s.byName[e.Var]
		if !ok {
			st.Unknown++
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownVariable, e.Var))
			continue
		}
		if !h.Rule().Accepts(v, from) {
			st.Rejected++
			continue
		}
		res, err := h.Apply(from, e, tick)
		if err != nil {
			st.Failed++
			errs = append(errs, err)
			continue
		}
		switch res {
		case syncvar.Applied:
			st.Applied++
		case syncvar.Unchanged:
			st.Unchanged++
		default:
			st.Stale++
		}
	}
	return st, errors.Join(errs...)
}
