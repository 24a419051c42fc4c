package modem

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_Bits(t *testing.T) {
	bits, err := Header{Mode: Mode16QAM3_4, Length: 100}.Bits()
	require.NoError(t, err)
	require.Len(t, bits, HeaderBits)

	assert.Equal(t, []byte{1, 0, 1, 1}, bits[:4])                           // RATE
	assert.Equal(t, byte(0), bits[4])                                      // reserved
	assert.Equal(t, []byte{0, 0, 1, 0, 0, 1, 1, 0, 0, 0, 0, 0}, bits[5:17]) // 100, LSB first
	assert.Equal(t, byte(0), parity(bits[:18]))
	assert.Equal(t, make([]byte, 6), bits[18:])
}

func TestHeader_ParseRoundTrip(t *testing.T) {
	for _, mode := range Modes() {
		for _, length := range []int{1, 8, 1500, MaxLength} {
			bits, err := Header{Mode: mode, Length: length}.Bits()
			require.NoError(t, err)
			h, err := ParseHeader(bits)
			require.NoError(t, err)
			assert.Equal(t, Header{Mode: mode, Length: length}, h)
		}
	}
}

func TestHeader_ParseRejects(t *testing.T) {
	valid, err := Header{Mode: ModeQPSK1_2, Length: 10}.Bits()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(b []byte)
	}{
		{"parity", func(b []byte) { b[17] ^= 1 }},
		{"reserved", func(b []byte) { b[4] = 1; b[17] ^= 1 }},
		{"rate", func(b []byte) { b[1], b[3] = 0, 0 }}, // 0101 -> 0000, parity unchanged
		{"zero length", func(b []byte) {
			for i := 5; i < 17; i++ {
				b[i] = 0
			}
			b[17] = parity(b[:17])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), valid...)
			tt.mutate(b)
			_, err := ParseHeader(b)
			assert.True(t, errors.Is(err, ErrInvalidHeader), "got %v", err)
		})
	}

	_, err = ParseHeader(valid[:10])
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestHeader_BitsRejectsRange(t *testing.T) {
	_, err := Header{Mode: ModeBPSK1_2, Length: 0}.Bits()
	assert.Error(t, err)
	_, err = Header{Mode: ModeBPSK1_2, Length: MaxLength + 1}.Bits()
	assert.Error(t, err)
	_, err = Header{Mode: Mode(42), Length: 1}.Bits()
	assert.Error(t, err)
}

func TestHeader_EncodeDecode(t *testing.T) {
	want := Header{Mode: Mode64QAM3_4, Length: 1234}
	samples, err := EncodeHeader(want)
	require.NoError(t, err)
	require.Len(t, samples, SymbolLen)

	got, err := DecodeHeader(samples, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
