package authority

import (
	"testing"

	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
	"github.com/stretchr/testify/assert"
)

func TestLedger_GrantAndRelease(t *testing.T) {
	l := NewLedger("a", "host", NewLease(false, 0))
	assert.Equal(t, core.Unsimulated, l.Resolve(0))

	assert.True(t, l.HandleGrant(streaming.GrantPayload{Epoch: 1, Holder: "a"}))
	assert.Equal(t, core.Authoritative, l.Resolve(1))

	assert.False(t, l.HandleGrant(streaming.GrantPayload{Epoch: 1, Holder: "b"}), "same epoch")
	assert.Equal(t, core.Authoritative, l.Resolve(2))

	ack, ok := l.HandleRelease(streaming.ReleasePayload{Epoch: 1, Next: "b"})
	assert.True(t, ok)
	assert.Equal(t, uint64(1), ack.Epoch)
	assert.Equal(t, core.Unsimulated, l.Resolve(3))

	l.HandleGrant(streaming.GrantPayload{Epoch: 2, Holder: "b"})
	assert.Equal(t, core.Replica, l.Resolve(4))

	_, ok = l.HandleRelease(streaming.ReleasePayload{Epoch: 1})
	assert.False(t, ok, "stale release")
	holder, epoch := l.Holder()
	assert.Equal(t, core.PartyID("b"), holder)
	assert.Equal(t, uint64(2), epoch)
}

func TestLedger_LeaseExpiryFreezes(t *testing.T) {
	lease := NewLease(false, 10)
	l := NewLedger("a", "host", lease)
	l.HandleGrant(streaming.GrantPayload{Epoch: 1, Holder: "a"})
	lease.Renew(5)

	assert.Equal(t, core.Authoritative, l.Resolve(15))
	assert.Equal(t, core.Unsimulated, l.Resolve(16))
	assert.Equal(t, core.PartyID(""), l.View("a", 16).Authority)

	lease.Renew(20)
	assert.Equal(t, core.Authoritative, l.Resolve(21))
	assert.Equal(t, core.PartyID("a"), l.View("a", 21).Authority)
}

func TestLease_HostNeverExpires(t *testing.T) {
	lease := NewLease(true, 1)
	assert.True(t, lease.Valid(1000))
}

func TestLedger_View(t *testing.T) {
	l := NewLedger("b", "host", NewLease(false, 0))
	l.HandleGrant(streaming.GrantPayload{Epoch: 3, Holder: "a"})
	v := l.View("a", 0)
	assert.Equal(t, core.View{Local: "b", Host: "host", Controller: "a", Authority: "a", Epoch: 3}, v)
	assert.Equal(t, core.Replica, v.Role())
}
