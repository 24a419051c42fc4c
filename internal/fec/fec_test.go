package fec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCRC32_Basic(t *testing.T) {
	data := []byte("Hello, World!")
	assert.NotZero(t, CRC32(data))
	assert.Equal(t, CRC32(data), CRC32(data))
	assert.NotEqual(t, CRC32(data), CRC32([]byte("Hello, World?")))
	// Standard check value.
	assert.Equal(t, uint32(0xcbf43926), CRC32([]byte("123456789")))
}

func TestCRC32_AppendVerify(t *testing.T) {
	data := []byte("Test data for CRC verification")

	withCRC := AppendCRC32(data)
	require.Len(t, withCRC, len(data)+CRCSize)

	recovered, ok := VerifyCRC32(withCRC)
	assert.True(t, ok)
	assert.Equal(t, data, recovered)

	withCRC[5] ^= 0xFF
	_, ok = VerifyCRC32(withCRC)
	assert.False(t, ok)

	_, ok = VerifyCRC32([]byte{1, 2})
	assert.False(t, ok)
}

func TestOuterCode_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 600).Draw(rt, "data")
		c, err := NewOuterCode(DefaultDataShards, DefaultParityShards)
		require.NoError(rt, err)

		enc, err := c.Protect(data)
		require.NoError(rt, err)
		assert.Len(rt, enc, c.EncodedLen(len(data)))

		got, damaged, err := c.Recover(enc)
		require.NoError(rt, err)
		assert.Zero(rt, damaged)
		assert.Equal(rt, len(data), len(got))
		if len(data) > 0 {
			assert.Equal(rt, data, got)
		}
	})
}

func TestOuterCode_RebuildsDamagedShards(t *testing.T) {
	c, err := NewOuterCode(10, 4)
	require.NoError(t, err)

	data := []byte("This is test data for Reed-Solomon encoding and decoding verification.")
	enc, err := c.Protect(data)
	require.NoError(t, err)
	block := len(enc) / 14

	// Flip one byte in four different shards.
	for _, shard := range []int{0, 3, 9, 12} {
		enc[shard*block+1] ^= 0x5a
	}
	got, damaged, err := c.Recover(enc)
	require.NoError(t, err)
	assert.Equal(t, 4, damaged)
	assert.Equal(t, data, got)

	enc[5*block] ^= 0x01
	_, damaged, err = c.Recover(enc)
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.Equal(t, 5, damaged)
}

func TestOuterCode_Rejects(t *testing.T) {
	_, err := NewOuterCode(0, 4)
	assert.Error(t, err)

	c, err := NewOuterCode(4, 2)
	require.NoError(t, err)
	_, _, err = c.Recover(make([]byte, 7))
	assert.Error(t, err)
	_, _, err = c.Recover(make([]byte, 6*CRCSize))
	assert.Error(t, err)
}
