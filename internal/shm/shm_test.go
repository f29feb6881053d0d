package shm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateWriteVisibleAfterOpen(t *testing.T) {
	seg, err := Create("adatrace-test", 4096)
	require.NoError(t, err)
	defer seg.Close()

	copy(seg.Bytes(), []byte("hello shared memory"))

	mirror, err := Open(seg.FD(), 4096)
	require.NoError(t, err)
	defer mirror.Close()

	require.Equal(t, "hello shared memory", string(mirror.Bytes()[:19]))
}
