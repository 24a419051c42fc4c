package modem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterleaver_KnownPositions(t *testing.T) {
	tests := []struct {
		cbps, bpsc int
		k, want    int
	}{
		{48, 1, 0, 0},
		{48, 1, 1, 3},
		{48, 1, 16, 1},
		{192, 4, 1, 13},
		{192, 4, 16, 1},
	}
	for _, tt := range tests {
		il := NewInterleaver(tt.cbps, tt.bpsc)
		in := make([]byte, tt.cbps)
		in[tt.k] = 1
		out, err := il.Interleave(in)
		require.NoError(t, err)
		assert.Equal(t, byte(1), out[tt.want], "cbps=%d k=%d", tt.cbps, tt.k)
	}
}

func TestInterleaver_IsPermutation(t *testing.T) {
	for _, mode := range Modes() {
		il := NewInterleaver(mode.CodedBitsPerSymbol(), mode.Modulation().BitsPerSymbol())
		seen := make(map[int]bool)
		for _, j := range il.forward {
			seen[j] = true
		}
		assert.Len(t, seen, mode.CodedBitsPerSymbol(), mode.String())

		in := make([]byte, mode.CodedBitsPerSymbol())
		for i := range in {
			in[i] = byte(i*13%7) & 1
		}
		mid, err := il.Interleave(in)
		require.NoError(t, err)
		out, err := il.Deinterleave(mid)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestInterleaver_WrongLength(t *testing.T) {
	il := NewInterleaver(48, 1)
	_, err := il.Interleave(make([]byte, 47))
	assert.Error(t, err)
	_, err = il.Deinterleave(make([]byte, 49))
	assert.Error(t, err)
}
