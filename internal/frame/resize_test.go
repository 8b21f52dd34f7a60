package frame

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSize_SameSizeReturnsInput(t *testing.T) {
	f, err := FromImage(gradient(32, 24), 3)
	require.NoError(t, err)

	var s Scratch
	out, err := EnsureSize(f, 32, 24, &s)
	require.NoError(t, err)
	assert.Same(t, f, out)
	assert.Equal(t, 0, s.Allocations())
}

func TestEnsureSize_ZeroTargetKeepsFrame(t *testing.T) {
	f, err := New(7, 5, 3)
	require.NoError(t, err)
	out, err := EnsureSize(f, 0, 0, nil)
	require.NoError(t, err)
	assert.Same(t, f, out)
}

func TestEnsureSize_ResizesIntoScratch(t *testing.T) {
	f, err := FromImage(gradient(64, 48), 3)
	require.NoError(t, err)

	var s Scratch
	out, err := EnsureSize(f, 32, 32, &s)
	require.NoError(t, err)
	assert.NotSame(t, f, out)
	assert.Equal(t, 32, out.Width)
	assert.Equal(t, 32, out.Height)
	assert.Equal(t, 3, out.Channels)
	assert.Equal(t, 1, s.Allocations())

	// Same target reuses the buffer.
	again, err := EnsureSize(f, 32, 32, &s)
	require.NoError(t, err)
	assert.Same(t, out, again)
	assert.Equal(t, 1, s.Allocations())

	// A different target reallocates.
	_, err = EnsureSize(f, 16, 16, &s)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Allocations())

	s.Release()
	_, err = EnsureSize(f, 16, 16, &s)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Allocations())
}

func TestEnsureSize_UniformColorPreserved(t *testing.T) {
	f, err := New(40, 30, 3)
	require.NoError(t, err)
	for i := 0; i < len(f.Pix); i += 3 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = 200, 100, 50
	}

	var s Scratch
	out, err := EnsureSize(f, 20, 15, &s)
	require.NoError(t, err)
	for i := 0; i < len(out.Pix); i += 3 {
		require.InDelta(t, 200, int(out.Pix[i]), 1)
		require.InDelta(t, 100, int(out.Pix[i+1]), 1)
		require.InDelta(t, 50, int(out.Pix[i+2]), 1)
	}
}

func TestEnsureSize_Errors(t *testing.T) {
	_, err := EnsureSize(nil, 10, 10, &Scratch{})
	require.Error(t, err)

	f, err := New(4, 4, 3)
	require.NoError(t, err)
	_, err = EnsureSize(f, -1, 10, &Scratch{})
	require.Error(t, err)
	_, err = EnsureSize(f, 10, 0, &Scratch{})
	require.Error(t, err)
	_, err = EnsureSize(f, 8, 8, nil)
	require.Error(t, err)
}

func TestEnsureSize_OutputMatchesTarget(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("resized frame always has the target size and channel count", prop.ForAll(
		func(sw, sh, tw, th, ci int) bool {
			channels := []int{1, 3, 4}[ci]
			f, err := New(sw, sh, channels)
			if err != nil {
				return false
			}
			var s Scratch
			out, err := EnsureSize(f, tw, th, &s)
			if err != nil {
				return false
			}
			return out.Width == tw && out.Height == th && out.Channels == channels &&
				len(out.Pix) == tw*th*channels
		},
		gen.IntRange(1, 64),
		gen.IntRange(1, 64),
		gen.IntRange(1, 64),
		gen.IntRange(1, 64),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
