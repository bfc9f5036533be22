// Package snapshot captures and restores the durable state of an object.
// It is independent of network replication.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modsync/vehicle/internal/module"
	"github.com/modsync/vehicle/pkg/core"
)

// Capture asks every persisting module for its durable fields.
func Capture(o *module.Object) core.Snapshot {
	snap := make(core.Snapshot)
	for _, m := range o.Modules() {
		p, ok := m.(module.Persister)
		if !ok {
			continue
		}
		if f := p.Capture(); f != nil {
			snap[string(m.Capability())] = f
		}
	}
	return snap
}

// Restore applies the snapshot keys present on o. Absent keys leave module
// defaults in place. Malformed fields are skipped with a warning; the
// returned error only reports them.
func Restore(o *module.Object, snap core.Snapshot) error {
	log := o.Logger()
	var errs []error
	for key, fields := range snap {
		m, ok := o.GetModule(module.Capability(key))
		if !ok {
			log.Debug("snapshot key without module", "capability", key)
			continue
		}
		p, ok := m.(module.Persister)
		if !ok {
			continue
		}
		if err := restore(p, fields); err != nil {
			log.Warn("snapshot fields skipped", "capability", key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func restore(p module.Persister, f core.Fields) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("restore panicked: %v", r)
		}
	}()
	return p.Restore(f)
}

// Marshal encodes a snapshot for storage.
func Marshal(s core.Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a stored snapshot.
func Unmarshal(data []byte) (core.Snapshot, error) {
	var s core.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s == nil {
		s = make(core.Snapshot)
	}
	return s, nil
}
