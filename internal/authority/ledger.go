package authority

import (
	"sync"

	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
)

// Lease tracks when a party last heard from the host. A non-host party that
// has not heard from the host for longer than the timeout no longer trusts
// its own authority. A zero timeout never expires.
type Lease struct {
	mu      sync.Mutex
	isHost  bool
	timeout uint64
	last    uint64
}

// NewLease creates a lease that is valid at tick 0.
func NewLease(isHost bool, timeout uint64) *Lease {
	return &Lease{isHost: isHost, timeout: timeout}
}

// Renew records host contact at tick.
func (l *Lease) Renew(tick uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tick > l.last {
		l.last = tick
	}
}

// Valid reports whether the lease holds at tick.
func (l *Lease) Valid(tick uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isHost || l.timeout == 0 {
		return true
	}
	return tick <= l.last || tick-l.last <= l.timeout
}

// Ledger is one party's record of who holds authority over one object.
type Ledger struct {
	mu     sync.Mutex
	local  core.PartyID
	host   core.PartyID
	holder core.PartyID
	epoch  uint64
	lease  *Lease
}

// NewLedger creates a ledger for an object nobody simulates yet.
func NewLedger(local, host core.PartyID, lease *Lease) *Ledger {
	return &Ledger{local: local, host: host, lease: lease}
}

// Holder returns the recorded holder and epoch.
func (l *Ledger) Holder() (core.PartyID, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.epoch
}

// Resolve returns the local role at tick. Without a holder, or without a
// valid lease on our own authority, the object is unsimulated.
func (l *Ledger) Resolve(tick uint64) core.Role {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolve(tick)
}

func (l *Ledger) resolve(tick uint64) core.Role {
	switch {
	case l.holder == "":
		return core.Unsimulated
	case l.holder == l.local:
		if !l.lease.Valid(tick) {
			return core.Unsimulated
		}
		return core.Authoritative
	default:
		return core.Replica
	}
}

// View returns the replication view at tick. A holder whose lease lapsed
// does not see itself as the authority.
func (l *Ledger) View(controller core.PartyID, tick uint64) core.View {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := core.View{
		Local:      l.local,
		Host:       l.host,
		Controller: controller,
		Authority:  l.holder,
		Epoch:      l.epoch,
	}
	if l.holder == l.local && l.resolve(tick) != core.Authoritative {
		v.Authority = ""
	}
	return v
}

// HandleGrant records a new holder. Grants not newer than the current
// epoch are ignored. It reports whether the ledger changed.
func (l *Ledger) HandleGrant(p streaming.GrantPayload) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Epoch <= l.epoch {
		return false
	}
	l.epoch = p.Epoch
	l.holder = p.Holder
	return true
}

// HandleRelease gives up local authority for the release's epoch. The
// caller must already have torn down physics for this tick. It returns the
// acknowledgement to send back to the host, or false for a stale request.
func (l *Ledger) HandleRelease(p streaming.ReleasePayload) (streaming.ReleasedPayload, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Epoch < l.epoch {
		return streaming.ReleasedPayload{}, false
	}
	if l.holder == l.local {
		l.holder = ""
	}
	return streaming.ReleasedPayload{Epoch: p.Epoch}, true
}
