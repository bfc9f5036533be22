package replication

import (
	"context"
	"fmt"

	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Replicator drives the flush schedule and records replication metrics.
type Replicator struct {
	flushInterval    uint64
	keyframeInterval uint64

	sent     metric.Int64Counter
	applied  metric.Int64Counter
	stale    metric.Int64Counter
	rejected metric.Int64Counter
}

// NewReplicator flushes every flushInterval ticks and sends a full keyframe
// every keyframeInterval flushes. A keyframeInterval of 0 disables keyframes.
// Uses the global OTel meter for metrics (no-op if not configured).
func NewReplicator(flushInterval, keyframeInterval uint64) (*Replicator, error) {
	if flushInterval == 0 {
		flushInterval = 1
	}
	r := &Replicator{flushInterval: flushInterval, keyframeInterval: keyframeInterval}

	m := meter()
	var err error
	r.sent, err = m.Int64Counter("replication.entries.sent",
		metric.WithDescription("Variable entries shipped in outgoing batches"))
	if err != nil {
		return nil, fmt.Errorf("create sent counter: %w", err)
	}
	r.applied, err = m.Int64Counter("replication.entries.applied",
		metric.WithDescription("Inbound entries applied"))
	if err != nil {
		return nil, fmt.Errorf("create applied counter: %w", err)
	}
	r.stale, err = m.Int64Counter("replication.entries.stale",
		metric.WithDescription("Inbound entries discarded as stale"))
	if err != nil {
		return nil, fmt.Errorf("create stale counter: %w", err)
	}
	r.rejected, err = m.Int64Counter("replication.entries.rejected",
		metric.WithDescription("Inbound entries refused by their replication rule"))
	if err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}
	return r, nil
}

// Due reports whether tick is a flush tick.
func (r *Replicator) Due(tick uint64) bool {
	return tick%r.flushInterval == 0
}

// Flush collects the dirty variables of one object into a batch. It returns
// false when there is nothing to send.
func (r *Replicator) Flush(ctx context.Context, object core.ObjectID, set *Set, v core.View, tick uint64) (streaming.BatchPayload, bool, error) {
	if r.keyframeInterval > 0 && (tick/r.flushInterval)%r.keyframeInterval == 0 {
		set.MarkFull(v)
	}
	entries, err := set.Collect(v)
	if len(entries) == 0 {
		return streaming.BatchPayload{}, false, err
	}
	r.sent.Add(ctx, int64(len(entries)), metric.WithAttributes(attribute.String("object", string(object))))
	return streaming.BatchPayload{Tick: tick, Entries: entries}, true, err
}

// Receive applies an inbound batch and records its outcome.
func (r *Replicator) Receive(ctx context.Context, object core.ObjectID, set *Set, batch streaming.BatchPayload, from core.PartyID, v core.View, tick uint64) (Stats, error) {
	st, err := set.Apply(batch, from, v, tick)
	attrs := metric.WithAttributes(attribute.String("object", string(object)))
	if n := st.Applied + st.Unchanged; n > 0 {
		r.applied.Add(ctx, int64(n), attrs)
	}
	if st.Stale > 0 {
		r.stale.Add(ctx, int64(st.Stale), attrs)
	}
	if st.Rejected > 0 {
		r.rejected.Add(ctx, int64(st.Rejected), attrs)
	}
	return st, err
}
