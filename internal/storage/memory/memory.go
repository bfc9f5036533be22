// Package memory keeps snapshots in a map and exports them to a JSON file
// on Close. Init reloads the previous export so a restarted party resumes
// from what it saved.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modsync/vehicle/internal/config"
	"github.com/modsync/vehicle/internal/storage"
	"github.com/modsync/vehicle/pkg/core"
)

// Record is one stored snapshot.
type Record struct {
	Snapshot  core.Snapshot `json:"snapshot"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Backend stores snapshots in memory and exports to JSON
type Backend struct {
	cfg     config.MemoryConfig
	records map[core.ObjectID]Record

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		records: make(map[core.ObjectID]Record),
	}
}

// Init loads the previous export, if any.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.OutputDir == "" {
		return nil
	}
	records, err := b.importJSON()
	if err != nil {
		return fmt.Errorf("failed to load previous export: %w", err)
	}
	for id, r := range records {
		b.records[id] = r
	}
	return nil
}

// Close exports all records to OutputDir.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON()
}

// SaveSnapshot stores a copy of snap.
func (b *Backend) SaveSnapshot(_ context.Context, id core.ObjectID, snap core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records[id] = Record{Snapshot: snap.Clone(), UpdatedAt: time.Now().UTC()}
	return nil
}

// LoadSnapshot returns a copy of the stored snapshot.
func (b *Backend) LoadSnapshot(_ context.Context, id core.ObjectID) (core.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	return r.Snapshot.Clone(), nil
}

func (b *Backend) DeleteSnapshot(_ context.Context, id core.ObjectID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.records, id)
	return nil
}

// Len returns the number of stored snapshots.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// ExportPath returns the file written by the last Close.
func (b *Backend) ExportPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
