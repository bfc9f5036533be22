package syncvar

import (
	"encoding/json"
	"testing"

	"github.com/modsync/vehicle/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVar_SetEqualIsNotDirty(t *testing.T) {
	v := New("x", ServerToClients, 5)
	v.Set(5)
	assert.False(t, v.Dirty())

	v.Set(6)
	assert.True(t, v.Dirty())
	assert.Equal(t, 6, v.Get())
}

func TestVar_EncodeClearsDirtyOnce(t *testing.T) {
	v := New("x", ServerToClients, 0)
	v.Set(3)

	e, err := v.Encode(1)
	require.NoError(t, err)
	assert.Equal(t, "x", e.Var)
	assert.Equal(t, uint64(1), e.Epoch)
	assert.Equal(t, uint64(1), e.Seq)
	assert.JSONEq(t, "3", string(e.Value))
	assert.False(t, v.Dirty())

	v.Set(4)
	e, err = v.Encode(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Seq)
}

func TestVar_ApplyDiscardsStale(t *testing.T) {
	v := New("x", ServerToClients, 0)

	res, err := v.Apply("a", streaming.Entry{Var: "x", Epoch: 1, Seq: 2, Value: json.RawMessage("7")}, 10)
	require.NoError(t, err)
	assert.Equal(t, Applied, res)
	assert.Equal(t, 7, v.Get())
	assert.Equal(t, uint64(10), v.LastUpdate())

	res, err = v.Apply("a", streaming.Entry{Var: "x", Epoch: 1, Seq: 1, Value: json.RawMessage("3")}, 11)
	require.NoError(t, err)
	assert.Equal(t, Stale, res)
	assert.Equal(t, 7, v.Get())
	assert.Equal(t, uint64(10), v.LastUpdate())

	// a newer epoch restarts sequencing
	res, err = v.Apply("a", streaming.Entry{Var: "x", Epoch: 2, Seq: 1, Value: json.RawMessage("9")}, 12)
	require.NoError(t, err)
	assert.Equal(t, Applied, res)
	assert.Equal(t, 9, v.Get())

	// so does a new sender on the same epoch
	res, err = v.Apply("b", streaming.Entry{Var: "x", Epoch: 2, Seq: 1, Value: json.RawMessage("4")}, 13)
	require.NoError(t, err)
	assert.Equal(t, Applied, res)

	// but never an older epoch
	res, err = v.Apply("c", streaming.Entry{Var: "x", Epoch: 1, Seq: 9, Value: json.RawMessage("5")}, 14)
	require.NoError(t, err)
	assert.Equal(t, Stale, res)
	assert.Equal(t, 4, v.Get())
}

func TestVar_ApplyOverwritesLocalDirty(t *testing.T) {
	v := New("x", ServerToClients, 0)
	v.Set(1)
	_, err := v.Apply("a", streaming.Entry{Var: "x", Epoch: 1, Seq: 1, Value: json.RawMessage("2")}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Get())
	assert.False(t, v.Dirty())
}

func TestVar_OnReceiveRunsBeforeStore(t *testing.T) {
	v := New("x", ServerToClients, 1)
	var seenPrev, seenNext, seenStored int
	calls := 0
	v.OnReceive(func(prev, next int) {
		calls++
		seenPrev, seenNext = prev, next
		seenStored = v.Get()
	})

	_, err := v.Apply("a", streaming.Entry{Var: "x", Epoch: 1, Seq: 1, Value: json.RawMessage("2")}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, seenPrev)
	assert.Equal(t, 2, seenNext)
	assert.Equal(t, 1, seenStored)

	res, err := v.Apply("a", streaming.Entry{Var: "x", Epoch: 1, Seq: 2, Value: json.RawMessage("2")}, 2)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res)
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(2), v.LastUpdate())
}

func TestVar_HookPanicStillStoresValue(t *testing.T) {
	v := New("x", ServerToClients, 1)
	v.OnReceive(func(prev, next int) { panic("effect failed") })

	assert.Panics(t, func() {
		_, _ = v.Apply("a", streaming.Entry{Var: "x", Epoch: 1, Seq: 1, Value: json.RawMessage("2")}, 1)
	})
	assert.Equal(t, 2, v.Get())
	assert.False(t, v.Dirty())
}

func TestVar_ApplyMalformed(t *testing.T) {
	v := New("x", ServerToClients, 1)
	_, err := v.Apply("a", streaming.Entry{Var: "x", Epoch: 1, Seq: 1, Value: json.RawMessage(`"str"`)}, 1)
	assert.Error(t, err)
	assert.Equal(t, 1, v.Get())
}

func TestVar_DeltaRoundTrip(t *testing.T) {
	src := New("props", PhysicsToSpectators, []float32{0, 0, 0}, WithCodec[[]float32](Float32s{}))
	dst := New("props", PhysicsToSpectators, []float32{0, 0, 0}, WithCodec[[]float32](Float32s{}))

	src.Set([]float32{1, 2, 3})
	e, err := src.Encode(1)
	require.NoError(t, err)
	assert.False(t, e.Delta, "first encode carries the full value")
	_, err = dst.Apply("a", e, 1)
	require.NoError(t, err)

	src.Set([]float32{1, 5, 3})
	e, err = src.Encode(1)
	require.NoError(t, err)
	assert.True(t, e.Delta)
	assert.JSONEq(t, `{"1":5}`, string(e.Value))
	_, err = dst.Apply("a", e, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 5, 3}, dst.Get())

	src.MarkFull()
	e, err = src.Encode(2)
	require.NoError(t, err)
	assert.False(t, e.Delta)
}

func TestFloat32s_PatchGrows(t *testing.T) {
	out, err := Float32s{}.Patch([]float32{1}, json.RawMessage(`{"2":4}`))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 4}, out)

	_, err = Float32s{}.Patch(nil, json.RawMessage(`{"-1":4}`))
	assert.Error(t, err)
}

func TestVar_DeltaEntryOnFullCodec(t *testing.T) {
	v := New("x", ServerToClients, 0)
	_, err := v.Apply("a", streaming.Entry{Var: "x", Epoch: 1, Seq: 1, Delta: true, Value: json.RawMessage(`{}`)}, 1)
	assert.Error(t, err)
}
