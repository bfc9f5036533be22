// Package gormstorage implements storage.Backend on top of any GORM
// dialect. Saves are queued and written behind by a background goroutine;
// reads and deletes flush the queue first so callers always observe their
// own writes.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modsync/vehicle/internal/model"
	"github.com/modsync/vehicle/internal/queue"
	"github.com/modsync/vehicle/internal/snapshot"
	"github.com/modsync/vehicle/internal/storage"
	"github.com/modsync/vehicle/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultFlushInterval is used when Dependencies.FlushInterval is zero.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	Snapshots   *queue.Queue[model.VehicleSnapshot]
	Performance *queue.Queue[model.PerformanceSample]
}

func newQueues() *queues {
	return &queues{
		Snapshots:   queue.New[model.VehicleSnapshot](),
		Performance: queue.New[model.PerformanceSample](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps   Dependencies
	queues *queues

	writeMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// SetDB injects a connection opened after New. It must be called before Init.
func (b *Backend) SetDB(db *gorm.DB) { b.deps.DB = db }

// Init migrates the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database connection")
	}

	b.deps.Logger.Info("Migrating schema", "dialect", b.deps.DB.Name())
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// Close stops the writer goroutine and writes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	if b.deps.DB == nil {
		return nil
	}
	return b.Flush(context.Background())
}

// SaveSnapshot queues snap for the next write cycle.
func (b *Backend) SaveSnapshot(_ context.Context, id core.ObjectID, snap core.Snapshot) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}

	b.queues.Snapshots.Push(model.VehicleSnapshot{
		ObjectID:     string(id),
		UpdatedAt:    time.Now().UTC(),
		Capabilities: capabilityList(snap),
		Data:         data,
	})
	return nil
}

// LoadSnapshot flushes pending saves and reads the row for id.
func (b *Backend) LoadSnapshot(ctx context.Context, id core.ObjectID) (core.Snapshot, error) {
	if err := b.Flush(ctx); err != nil {
		return nil, err
	}

	var row model.VehicleSnapshot
	err := b.deps.DB.WithContext(ctx).Where("object_id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return snapshot.Unmarshal(row.Data)
}

// DeleteSnapshot flushes pending saves and removes the row for id.
func (b *Backend) DeleteSnapshot(ctx context.Context, id core.ObjectID) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}
	err := b.deps.DB.WithContext(ctx).Where("object_id = ?", string(id)).Delete(&model.VehicleSnapshot{}).Error
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// RecordPerformance queues a status sample.
func (b *Backend) RecordPerformance(s model.PerformanceSample) error {
	b.queues.Performance.Push(s)
	return nil
}

// Pending returns the number of queued snapshot saves.
func (b *Backend) Pending() int {
	return b.queues.Snapshots.Len()
}

// Flush writes every queued row now.
func (b *Backend) Flush(ctx context.Context) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	db := b.deps.DB.WithContext(ctx)

	err := writeQueue(db, b.queues.Snapshots, latestPerObject, func(tx *gorm.DB) *gorm.DB {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "object_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at", "capabilities", "data"}),
		})
	})
	if err != nil {
		return fmt.Errorf("write snapshots: %w", err)
	}

	if err := writeQueue(db, b.queues.Performance, nil, nil); err != nil {
		return fmt.Errorf("write performance samples: %w", err)
	}
	return nil
}

// writeQueue writes all items from a queue in one transaction. On failure
// the items go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], prepare func([]T) []T, clauses func(*gorm.DB) *gorm.DB) error {
	if q.Empty() {
		return nil
	}

	items := q.GetAndEmpty()
	rows := items
	if prepare != nil {
		rows = prepare(items)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if clauses != nil {
			tx = clauses(tx)
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		q.PushFront(items...)
		return err
	}
	return nil
}

// latestPerObject keeps only the newest save per object: a single upsert
// statement may not touch the same row twice.
func latestPerObject(items []model.VehicleSnapshot) []model.VehicleSnapshot {
	index := make(map[string]int, len(items))
	out := make([]model.VehicleSnapshot, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ObjectID]; ok {
			out[i] = it
			continue
		}
		index[it.ObjectID] = len(out)
		out = append(out, it)
	}
	return out
}

func capabilityList(snap core.Snapshot) string {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// writeLoop periodically drains the queues into the DB.
func (b *Backend) writeLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Flush(context.Background()); err != nil {
				b.deps.Logger.Error("DB write failed", "error", err)
				continue
			}
			b.deps.Logger.Debug("DB write cycle complete", "duration", time.Since(start))
		}
	}
}
