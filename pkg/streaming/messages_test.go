package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EncodesPayload(t *testing.T) {
	env, err := New(TypeGrant, "car-1", "host", GrantPayload{Epoch: 4, Holder: "alice"})
	require.NoError(t, err)
	assert.Equal(t, TypeGrant, env.Type)
	assert.JSONEq(t, `{"epoch":4,"holder":"alice"}`, string(env.Payload))

	var got GrantPayload
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, uint64(4), got.Epoch)
	assert.Equal(t, "alice", string(got.Holder))
}

func TestNew_NilPayload(t *testing.T) {
	env, err := New(TypeDespawn, "car-1", "host", nil)
	require.NoError(t, err)
	assert.Nil(t, env.Payload)

	var got GrantPayload
	require.NoError(t, env.Decode(&got))
	assert.Zero(t, got.Epoch)
}
