package memutils_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/fathom/memutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(1, "one"))
	require.NoError(t, memutils.CheckPow2(256, "alignment"))

	err := memutils.CheckPow2(96, "alignment")
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.ErrorContains(t, err, "alignment is 96")
}

func TestCheckAlign(t *testing.T) {
	require.NoError(t, memutils.CheckAlign(0, 64, "offset"))
	require.NoError(t, memutils.CheckAlign(128, 64, "offset"))

	err := memutils.CheckAlign(100, 64, "offset")
	require.True(t, errors.Is(err, memutils.AlignmentError))
	require.ErrorContains(t, err, "offset is 100")
}

func TestAlignUpDown(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 64))
	require.Equal(t, 64, memutils.AlignUp(1, 64))
	require.Equal(t, 64, memutils.AlignUp(64, 64))
	require.Equal(t, 128, memutils.AlignUp(65, 64))

	require.Equal(t, 0, memutils.AlignDown(63, 64))
	require.Equal(t, 64, memutils.AlignDown(64, 64))
	require.Equal(t, 64, memutils.AlignDown(127, 64))
}

func TestNextPow2(t *testing.T) {
	require.Equal(t, uint32(2), memutils.NextPow2(0))
	require.Equal(t, uint32(2), memutils.NextPow2(2))
	require.Equal(t, uint32(4), memutils.NextPow2(3))
	require.Equal(t, uint32(1024), memutils.NextPow2(1000))
}
