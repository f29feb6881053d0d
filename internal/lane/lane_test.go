package lane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRotatesOnFullRing(t *testing.T) {
	l := New(3, 32) // small rings to force rotation quickly
	rec := []byte("0123456789")

	wrote := 0
	for i := 0; i < 20; i++ {
		if l.Write(rec) {
			wrote++
		}
	}
	assert.Greater(t, wrote, 0)

	_, ok := l.NextSubmitted()
	assert.True(t, ok, "at least one ring should have been rotated to submitted")
}

func TestReclaimReturnsRingToFreePool(t *testing.T) {
	l := New(2, 24)
	rec := []byte("0123456789")

	// Fill the active ring until it forces a rotation.
	for i := 0; i < 10 && l.Write(rec); i++ {
	}

	idx, ok := l.NextSubmitted()
	require.True(t, ok)

	r := l.Ring(idx)
	buf := make([]byte, 32)
	for !r.IsEmpty() {
		_, ok := r.ReadNext(buf)
		require.True(t, ok)
	}
	l.Reclaim(idx)

	// With the ring index back in the free pool, further writes after
	// another forced rotation should eventually succeed again.
	wrote := false
	for i := 0; i < 20; i++ {
		if l.Write(rec) {
			wrote = true
		}
	}
	assert.True(t, wrote)
}

func TestForceSwapDrainsPartialRing(t *testing.T) {
	l := New(2, 256)
	require.True(t, l.Write([]byte("partial")))

	idx, swapped := l.ForceSwap()
	require.True(t, swapped)

	r := l.Ring(idx)
	assert.False(t, r.IsEmpty())

	_, again := l.ForceSwap()
	assert.False(t, again, "force swap on an empty active ring is a no-op")
}
