package laneset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeparatesIndexAndDetailLanes(t *testing.T) {
	cfg := Config{IndexRings: 2, IndexRingBytes: 4096, DetailRings: 2, DetailRingBytes: 8192}
	s := New(42, cfg)

	assert.EqualValues(t, 42, s.ThreadID())
	require.NotNil(t, s.IndexLane())
	require.NotNil(t, s.DetailLane())
	assert.NotSame(t, s.IndexLane(), s.DetailLane())

	require.True(t, s.IndexLane().Write([]byte("idx-record")))
	require.True(t, s.DetailLane().Write([]byte("a much longer detail payload")))
}
