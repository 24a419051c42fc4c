// Package signal holds the sample and bit sequences that travel through the
// simulated PHY.
package signal

import (
	"fmt"
	"math/cmplx"
)

// Bits is a bit sequence with one bit (0 or 1) per element.
type Bits []byte

// Samples is an ordered sequence of complex baseband samples.
type Samples []complex128

// Buffer pairs a waveform with the bit sequence it carries.
type Buffer struct {
	Samples Samples
	Bits    Bits
}

// BitsFromBytes expands octets MSB first.
func BitsFromBytes(data []byte) Bits {
	bits := make(Bits, len(data)*8)
	for i, b := range data {
		for j := 7; j >= 0; j-- {
			bits[i*8+(7-j)] = (b >> uint(j)) & 1
		}
	}
	return bits
}

// Bytes packs the bits MSB first. Trailing bits that do not fill an octet
// are dropped.
func (b Bits) Bytes() []byte {
	numBytes := len(b) / 8
	data := make([]byte, numBytes)
	for i := 0; i < numBytes; i++ {
		var v byte
		for j := 0; j < 8; j++ {
			v = (v << 1) | (b[i*8+j] & 1)
		}
		data[i] = v
	}
	return data
}

// Pack packs the bits MSB first, zero-padding the last octet.
func (b Bits) Pack() []byte {
	out := make([]byte, (len(b)+7)/8)
	for i, v := range b {
		if v&1 != 0 {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return out
}

// UnpackBits is the inverse of Pack for a sequence of n bits.
func UnpackBits(packed []byte, n int) (Bits, error) {
	if n < 0 || (n+7)/8 > len(packed) {
		return nil, fmt.Errorf("unpack %d bits from %d bytes", n, len(packed))
	}
	bits := make(Bits, n)
	for i := range bits {
		bits[i] = (packed[i/8] >> uint(7-i%8)) & 1
	}
	return bits, nil
}

// Clone returns an independent copy; nil stays nil.
func (b Bits) Clone() Bits {
	if b == nil {
		return nil
	}
	out := make(Bits, len(b))
	copy(out, b)
	return out
}

// Equal reports whether both sequences hold the same bits.
func (b Bits) Equal(other Bits) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if b[i]&1 != other[i]&1 {
			return false
		}
	}
	return true
}

// Errors counts differing positions over the common prefix plus the length
// difference.
func (b Bits) Errors(other Bits) int {
	n := min(len(b), len(other))
	errs := max(len(b), len(other)) - n
	for i := 0; i < n; i++ {
		if b[i]&1 != other[i]&1 {
			errs++
		}
	}
	return errs
}

// Clone returns an independent copy; nil stays nil.
func (s Samples) Clone() Samples {
	if s == nil {
		return nil
	}
	out := make(Samples, len(s))
	copy(out, s)
	return out
}

// Energy returns the sum of squared magnitudes.
func (s Samples) Energy() float64 {
	var e float64
	for _, v := range s {
		e += real(v)*real(v) + imag(v)*imag(v)
	}
	return e
}

// Power returns the mean squared magnitude, 0 for an empty sequence.
func (s Samples) Power() float64 {
	if len(s) == 0 {
		return 0
	}
	return s.Energy() / float64(len(s))
}

// Scale returns a copy multiplied by gain.
func (s Samples) Scale(gain complex128) Samples {
	out := make(Samples, len(s))
	for i, v := range s {
		out[i] = v * gain
	}
	return out
}

// Add returns the element-wise sum. The result has the length of the longer
// operand; the shorter one is treated as zero-extended.
func (s Samples) Add(other Samples) Samples {
	out := make(Samples, max(len(s), len(other)))
	copy(out, s)
	for i, v := range other {
		out[i] += v
	}
	return out
}

// Sub returns the element-wise difference, zero-extending the shorter operand.
func (s Samples) Sub(other Samples) Samples {
	out := make(Samples, max(len(s), len(other)))
	copy(out, s)
	for i, v := range other {
		out[i] -= v
	}
	return out
}

// Delay prepends n zero samples.
func (s Samples) Delay(n int) Samples {
	out := make(Samples, n+len(s))
	copy(out[n:], s)
	return out
}

// Window returns s[start:end] clipped to the sequence bounds.
func (s Samples) Window(start, end int) Samples {
	start = max(start, 0)
	end = min(end, len(s))
	if start >= end {
		return nil
	}
	return s[start:end]
}

// PeakMagnitude returns the largest sample magnitude.
func (s Samples) PeakMagnitude() float64 {
	var peak float64
	for _, v := range s {
		if a := cmplx.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}
