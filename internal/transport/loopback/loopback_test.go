package loopback

import (
	"context"
	"sync"
	"testing"

	"github.com/modsync/vehicle/internal/transport"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	envs []streaming.Envelope
}

func (i *inbox) handle(env streaming.Envelope) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.envs = append(i.envs, env)
}

func (i *inbox) types() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.envs))
	for k, e := range i.envs {
		out[k] = e.Type + ":" + string(e.Object)
	}
	return out
}

func setup(parties ...core.PartyID) (*Network, map[core.PartyID]*Endpoint, map[core.PartyID]*inbox) {
	n := NewNetwork()
	eps := make(map[core.PartyID]*Endpoint)
	boxes := make(map[core.PartyID]*inbox)
	for _, p := range parties {
		box := &inbox{}
		boxes[p] = box
		eps[p] = n.Join(p, box.handle)
	}
	return n, eps, boxes
}

func TestBroadcast_IncludesSender(t *testing.T) {
	n, eps, boxes := setup("host", "alice", "bob")

	require.NoError(t, eps["host"].Send(context.Background(), streaming.Envelope{Type: "grant", Object: "car"}))

	for _, p := range []core.PartyID{"host", "alice", "bob"} {
		assert.Equal(t, []string{"grant:car"}, boxes[p].types(), string(p))
	}
	assert.Equal(t, uint64(3), n.Delivered())
}

func TestDirected(t *testing.T) {
	_, eps, boxes := setup("host", "alice", "bob")

	require.NoError(t, eps["host"].Send(context.Background(), streaming.Envelope{Type: "release", Object: "car", To: "alice"}))

	assert.Equal(t, []string{"release:car"}, boxes["alice"].types())
	assert.Empty(t, boxes["bob"].types())
	assert.Empty(t, boxes["host"].types())
}

func TestFIFOPerLink(t *testing.T) {
	_, eps, boxes := setup("host", "alice")
	ctx := context.Background()

	for _, obj := range []core.ObjectID{"1", "2", "3"} {
		require.NoError(t, eps["alice"].Send(ctx, streaming.Envelope{Type: "b", Object: obj, To: "host"}))
	}
	assert.Equal(t, []string{"b:1", "b:2", "b:3"}, boxes["host"].types())
}

func TestPartitionAndHeal(t *testing.T) {
	n, eps, boxes := setup("host", "alice")
	ctx := context.Background()

	n.Partition("alice", "host")
	require.NoError(t, eps["host"].Send(ctx, streaming.Envelope{Type: "grant", Object: "car"}))
	assert.Empty(t, boxes["alice"].types())
	assert.Equal(t, []string{"grant:car"}, boxes["host"].types())
	assert.Equal(t, uint64(1), n.Dropped())

	n.Heal("host", "alice")
	require.NoError(t, eps["host"].Send(ctx, streaming.Envelope{Type: "grant", Object: "van", To: "alice"}))
	assert.Equal(t, []string{"grant:van"}, boxes["alice"].types())
}

func TestUnknownTargetDropped(t *testing.T) {
	n, eps, _ := setup("host")
	require.NoError(t, eps["host"].Send(context.Background(), streaming.Envelope{Type: "x", To: "ghost"}))
	assert.Equal(t, uint64(1), n.Dropped())
}

func TestClose(t *testing.T) {
	_, eps, boxes := setup("host", "alice")
	ctx := context.Background()

	require.NoError(t, eps["alice"].Close())
	require.NoError(t, eps["alice"].Close())
	assert.ErrorIs(t, eps["alice"].Send(ctx, streaming.Envelope{}), transport.ErrClosed)

	require.NoError(t, eps["host"].Send(ctx, streaming.Envelope{Type: "grant"}))
	assert.Empty(t, boxes["alice"].types())
	assert.Len(t, boxes["host"].types(), 1)
}
