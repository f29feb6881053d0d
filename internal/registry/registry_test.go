package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFindUnregister(t *testing.T) {
	r := New(make([]byte, 4*SlotSize), 4)

	idx, epoch, err := r.Register(1001, 1_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, epoch)
	assert.True(t, r.Occupied(idx))

	found, ok := r.Find(1001)
	require.True(t, ok)
	assert.Equal(t, idx, found)

	r.Heartbeat(idx, 2_000_000)
	assert.EqualValues(t, 2_000_000, r.LastSeenNs(idx))

	r.Unregister(idx)
	assert.False(t, r.Occupied(idx))
	_, ok = r.Find(1001)
	assert.False(t, ok)
}

func TestRegisterDuplicateReturnsExistingSlot(t *testing.T) {
	r := New(make([]byte, 4*SlotSize), 4)

	idx1, epoch1, err := r.Register(1001, 1_000_000)
	require.NoError(t, err)

	idx2, epoch2, err := r.Register(1001, 2_000_000)
	require.NoError(t, err)

	assert.Equal(t, idx1, idx2)
	assert.Equal(t, epoch1, epoch2, "re-registering the same thread must not bump its epoch")
	assert.EqualValues(t, 2_000_000, r.LastSeenNs(idx1), "re-registering refreshes the heartbeat")

	idx3, _, err := r.Register(1002, 3_000_000)
	require.NoError(t, err)
	assert.NotEqual(t, idx1, idx3)
}

func TestRegisterExhaustion(t *testing.T) {
	r := New(make([]byte, 2*SlotSize), 2)

	_, _, err := r.Register(1, 0)
	require.NoError(t, err)
	_, _, err = r.Register(2, 0)
	require.NoError(t, err)

	_, _, err = r.Register(3, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFull))
}

func TestEpochBumpsAcrossClaims(t *testing.T) {
	r := New(make([]byte, SlotSize), 1)

	idx, epoch1, err := r.Register(1, 0)
	require.NoError(t, err)
	r.Unregister(idx)

	_, epoch2, err := r.Register(2, 0)
	require.NoError(t, err)
	assert.Greater(t, epoch2, epoch1)
}

func TestNewPanicsWhenSegmentTooSmall(t *testing.T) {
	assert.Panics(t, func() {
		New(make([]byte, SlotSize-1), 1)
	})
}
