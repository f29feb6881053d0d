package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adatrace/tracer/internal/lane"
	"github.com/adatrace/tracer/internal/laneset"
	"github.com/adatrace/tracer/internal/modefsm"
)

func newTestLanes(threadID uint64) *laneset.ThreadLaneSet {
	return laneset.New(threadID, laneset.Config{
		IndexRings: 2, IndexRingBytes: 1024,
		DetailRings: 2, DetailRingBytes: 1024,
	})
}

func TestEnterExitGlobalOnlyRoutesToGlobalRing(t *testing.T) {
	globalIdx := lane.New(2, 4096)
	c := New(globalIdx, nil, newTestLanes, nil)

	tok := c.EnterTrace(1, []byte("enter-record"))
	c.ExitTrace(tok, []byte("exit-record"))

	assert.Greater(t, globalIdx.Ring(0).Len(), 0)
}

func TestNestedEnterIsNoOp(t *testing.T) {
	globalIdx := lane.New(2, 4096)
	c := New(globalIdx, nil, newTestLanes, nil)

	outer := c.EnterTrace(1, []byte("outer"))
	inner := c.EnterTrace(1, []byte("inner"))

	c.ExitTrace(inner, []byte("inner-exit"))
	c.ExitTrace(outer, []byte("outer-exit"))

	ts := c.threadState(1)
	assert.Equal(t, 0, ts.ReentrancyDepth)
}

func TestPerThreadOnlyFallsBackToGlobalWhenLaneFull(t *testing.T) {
	globalIdx := lane.New(1, 256)
	c := New(globalIdx, nil, func(threadID uint64) *laneset.ThreadLaneSet {
		return laneset.New(threadID, laneset.Config{IndexRings: 1, IndexRingBytes: 1, DetailRings: 1, DetailRingBytes: 1})
	}, nil)

	ts := c.threadState(1)
	ts.Mode = modefsm.PerThreadOnly

	c.EmitIndex(1, []byte("x"))

	assert.EqualValues(t, 1, c.FallbackEvents())
}

func TestDualWriteCountsFallbackOnPerThreadFailure(t *testing.T) {
	globalIdx := lane.New(2, 4096)
	c := New(globalIdx, nil, func(threadID uint64) *laneset.ThreadLaneSet {
		return laneset.New(threadID, laneset.Config{IndexRings: 1, IndexRingBytes: 1, DetailRings: 1, DetailRingBytes: 1})
	}, nil)

	ts := c.threadState(1)
	ts.Mode = modefsm.DualWrite

	c.EmitIndex(1, []byte("x"))

	assert.EqualValues(t, 1, c.FallbackEvents(), "per-thread lane is too small to hold any record, so DUAL_WRITE must still count the fallback")
	assert.Greater(t, globalIdx.Ring(0).Len(), 0, "the global write still succeeds regardless of the fallback count")
}

func TestEmitDetailGlobalOnly(t *testing.T) {
	globalDetail := lane.New(2, 4096)
	c := New(nil, globalDetail, newTestLanes, nil)

	c.EmitDetail(7, []byte("payload"))

	assert.EqualValues(t, 0, c.FallbackEvents())
}

func TestTickAdvancesPerThreadMode(t *testing.T) {
	c := New(nil, nil, newTestLanes, nil)

	state := c.Tick(3, true, 1)
	assert.Equal(t, modefsm.DualWrite, state)
}

var _ = require.NoError
