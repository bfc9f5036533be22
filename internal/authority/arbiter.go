package authority

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sender delivers envelopes. An empty To broadcasts to every party,
// including the sender itself.
type Sender interface {
	Send(ctx context.Context, env streaming.Envelope) error
}

// releaseRetryTicks is how many reconcile calls a pending handoff waits
// for its acknowledgement before asking the holder again.
const releaseRetryTicks = 30

type handoff struct {
	holder  core.PartyID
	epoch   uint64
	pending bool
	next    core.PartyID
	waited  uint64
}

// Arbiter runs on the host and sequences authority handoffs. A new holder
// is only granted authority after the previous holder acknowledged its
// release, so no two parties ever simulate the same object.
type Arbiter struct {
	mu      sync.Mutex
	host    core.PartyID
	sender  Sender
	log     *slog.Logger
	objects map[core.ObjectID]*handoff

	transitions metric.Int64Counter
}

// NewArbiter creates the host's arbiter.
func NewArbiter(host core.PartyID, sender Sender, logger *slog.Logger) (*Arbiter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	transitions, err := meter().Int64Counter("authority.transitions",
		metric.WithDescription("Authority grants issued by the host"))
	if err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}
	return &Arbiter{
		host:        host,
		sender:      sender,
		log:         logger,
		objects:     make(map[core.ObjectID]*handoff),
		transitions: transitions,
	}, nil
}

// Forget drops an object's handoff state, e.g. on despawn.
func (a *Arbiter) Forget(object core.ObjectID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, object)
}

// Current returns the granted holder, its epoch and whether a handoff is
// in flight.
func (a *Arbiter) Current(object core.ObjectID) (core.PartyID, uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.objects[object]
	if !ok {
		return "", 0, false
	}
	return st.holder, st.epoch, st.pending
}

// Reconcile moves authority over object towards desired. With no current
// holder the grant is immediate; otherwise the holder is asked to release
// and the grant waits for its acknowledgement. An unanswered release is
// repeated every releaseRetryTicks calls; the holder answers a repeat for
// the same epoch again, so a lost request or acknowledgement only delays
// the handoff.
func (a *Arbiter) Reconcile(ctx context.Context, object core.ObjectID, desired core.PartyID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(object)
	if st.pending {
		st.next = desired
		st.waited++
		if st.waited < releaseRetryTicks {
			return nil
		}
		st.waited = 0
		return a.requestRelease(ctx, object, st)
	}
	if desired == st.holder {
		return nil
	}
	if st.holder == "" {
		return a.grant(ctx, object, st, desired)
	}

	st.pending = true
	st.next = desired
	st.waited = 0
	return a.requestRelease(ctx, object, st)
}

func (a *Arbiter) requestRelease(ctx context.Context, object core.ObjectID, st *handoff) error {
	env, err := streaming.New(streaming.TypeRelease, object, a.host,
		streaming.ReleasePayload{Epoch: st.epoch, Next: st.next})
	if err != nil {
		return err
	}
	env.To = st.holder
	a.log.Debug("authority release requested", "object", string(object), "holder", string(st.holder), "epoch", st.epoch, "next", string(st.next))
	return a.sender.Send(ctx, env)
}

// OnReleased completes a pending handoff once the holder acknowledged it.
// Acknowledgements from anyone else or for another epoch are ignored.
func (a *Arbiter) OnReleased(ctx context.Context, object core.ObjectID, from core.PartyID, p streaming.ReleasedPayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.objects[object]
	if !ok || !st.pending || from != st.holder || p.Epoch != st.epoch {
		a.log.Debug("unexpected release ack ignored", "object", string(object), "from", string(from), "epoch", p.Epoch)
		return nil
	}
	st.pending = false
	return a.grant(ctx, object, st, st.next)
}

func (a *Arbiter) state(object core.ObjectID) *handoff {
	st, ok := a.objects[object]
	if !ok {
		st = &handoff{}
		a.objects[object] = st
	}
	return st
}

func (a *Arbiter) grant(ctx context.Context, object core.ObjectID, st *handoff, holder core.PartyID) error {
	st.epoch++
	st.holder = holder
	st.next = ""
	a.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("object", string(object))))
	a.log.Info("authority granted", "object", string(object), "holder", string(holder), "epoch", st.epoch)

	env, err := streaming.New(streaming.TypeGrant, object, a.host,
		streaming.GrantPayload{Epoch: st.epoch, Holder: holder})
	if err != nil {
		return err
	}
	return a.sender.Send(ctx, env)
}
