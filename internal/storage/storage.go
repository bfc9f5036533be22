// Package storage defines the persistence collaborator for object snapshots.
package storage

import (
	"context"
	"errors"

	"github.com/modsync/vehicle/internal/model"
	"github.com/modsync/vehicle/pkg/core"
)

// ErrNotFound is returned by LoadSnapshot when nothing was saved for an object.
var ErrNotFound = errors.New("snapshot not found")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// SaveSnapshot replaces whatever was stored for id.
	SaveSnapshot(ctx context.Context, id core.ObjectID, snap core.Snapshot) error
	LoadSnapshot(ctx context.Context, id core.ObjectID) (core.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id core.ObjectID) error
}

// Exportable is an optional interface for backends that write their
// contents to a file on Close.
type Exportable interface {
	ExportPath() string
}

// PerformanceRecorder is an optional interface for backends that keep
// party status samples next to the snapshots.
type PerformanceRecorder interface {
	RecordPerformance(s model.PerformanceSample) error
}
