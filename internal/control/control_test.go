package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTooSmallPanics(t *testing.T) {
	assert.Panics(t, func() {
		New(make([]byte, Size-1))
	})
}

func TestFieldRoundTrip(t *testing.T) {
	b := New(make([]byte, Size))

	assert.False(t, b.IsReady())
	b.SetReady(true)
	assert.True(t, b.IsReady())

	assert.False(t, b.ShutdownRequested())
	b.SetShutdownRequested(true)
	assert.True(t, b.ShutdownRequested())

	b.SetMode(2)
	assert.EqualValues(t, 2, b.Mode())

	b.SetCommand(7)
	assert.EqualValues(t, 7, b.Command())

	b.SetEpoch(9)
	assert.EqualValues(t, 9, b.Epoch())

	b.Heartbeat(123456)
	assert.EqualValues(t, 123456, b.HeartbeatNs())
}

func TestCounters(t *testing.T) {
	b := New(make([]byte, Size))

	b.AddDroppedEvents(3)
	b.AddDroppedEvents(4)
	require.EqualValues(t, 7, b.DroppedEvents())

	b.AddPersistedWindows(1)
	b.AddPersistedWindows(2)
	require.EqualValues(t, 3, b.PersistedWindows())
}
