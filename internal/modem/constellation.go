package modem

import (
	"math"
)

// Modulation represents a subcarrier modulation scheme.
type Modulation int

const (
	ModBPSK  Modulation = 1 // 1 bit per symbol
	ModQPSK  Modulation = 2 // 2 bits per symbol
	Mod16QAM Modulation = 4 // 4 bits per symbol
	Mod64QAM Modulation = 6 // 6 bits per symbol
)

// BitsPerSymbol returns the number of bits per constellation symbol.
func (m Modulation) BitsPerSymbol() int {
	return int(m)
}

// String returns the modulation name.
func (m Modulation) String() string {
	switch m {
	case ModBPSK:
		return "BPSK"
	case ModQPSK:
		return "QPSK"
	case Mod16QAM:
		return "16-QAM"
	case Mod64QAM:
		return "64-QAM"
	default:
		return "Unknown"
	}
}

// Constellation holds the Gray-coded points of a modulation, normalized to
// unit average power.
type Constellation struct {
	Mod    Modulation
	points []complex128
	scale  float64 // K_MOD
	levels int     // amplitude levels per axis
}

// NewConstellation creates a new constellation for the given modulation.
func NewConstellation(mod Modulation) *Constellation {
	c := &Constellation{Mod: mod}
	switch mod {
	case ModBPSK:
		c.scale = 1
	case ModQPSK:
		c.scale = 1 / math.Sqrt(2)
	case Mod16QAM:
		c.scale = 1 / math.Sqrt(10)
	case Mod64QAM:
		c.scale = 1 / math.Sqrt(42)
	default:
		c.Mod = ModBPSK
		c.scale = 1
	}
	c.generate()
	return c
}

func (c *Constellation) axisBits() (iBits, qBits int) {
	bps := c.Mod.BitsPerSymbol()
	if bps == 1 {
		return 1, 0
	}
	return bps / 2, bps / 2
}

func (c *Constellation) generate() {
	iBits, qBits := c.axisBits()
	c.levels = 1 << iBits
	size := 1 << c.Mod.BitsPerSymbol()
	c.points = make([]complex128, size)

	for idx := 0; idx < size; idx++ {
		// Leading bits select the in-phase level, trailing bits the quadrature.
		iCode := idx >> qBits
		qCode := idx & (1<<qBits - 1)

		x := axisAmplitude(iCode, iBits)
		y := 0.0
		if qBits > 0 {
			y = axisAmplitude(qCode, qBits)
		}
		c.points[idx] = complex(x*c.scale, y*c.scale)
	}
}

// axisAmplitude maps a Gray-coded bit group to an odd amplitude in
// [-(2^n-1), 2^n-1].
func axisAmplitude(code, n int) float64 {
	level := grayDecode(code)
	return float64(2*level - (1<<n - 1))
}

// axisCode is the inverse of axisAmplitude for an unscaled amplitude.
func axisCode(amp float64, n int) int {
	maxLevel := 1<<n - 1
	level := int(math.Round((amp + float64(maxLevel)) / 2))
	level = min(max(level, 0), maxLevel)
	return level ^ (level >> 1)
}

func grayDecode(g int) int {
	b := 0
	for ; g != 0; g >>= 1 {
		b ^= g
	}
	return b
}

// Scale returns the normalization factor applied to the integer grid.
func (c *Constellation) Scale() float64 {
	return c.scale
}

// Points returns a copy of the constellation indexed by bit pattern.
func (c *Constellation) Points() []complex128 {
	out := make([]complex128, len(c.points))
	copy(out, c.points)
	return out
}

// Map maps bits to a constellation point.
func (c *Constellation) Map(bits []byte) complex128 {
	idx := bitsToIndex(bits)
	if idx >= len(c.points) {
		idx = 0
	}
	return c.points[idx]
}

// Demap slices each axis to the nearest level and returns the bits.
func (c *Constellation) Demap(symbol complex128) []byte {
	iBits, qBits := c.axisBits()
	idx := axisCode(real(symbol)/c.scale, iBits) << qBits
	if qBits > 0 {
		idx |= axisCode(imag(symbol)/c.scale, qBits)
	}
	return indexToBits(idx, c.Mod.BitsPerSymbol())
}

// MapBits maps a bit slice to constellation symbols.
// bits are packed as bytes (0 or 1 each).
func (c *Constellation) MapBits(bits []byte) []complex128 {
	bps := c.Mod.BitsPerSymbol()
	numSymbols := len(bits) / bps
	symbols := make([]complex128, numSymbols)

	for i := 0; i < numSymbols; i++ {
		symbols[i] = c.Map(bits[i*bps : (i+1)*bps])
	}
	return symbols
}

// DemapSymbols demaps constellation symbols back to bits.
func (c *Constellation) DemapSymbols(symbols []complex128) []byte {
	bps := c.Mod.BitsPerSymbol()
	bits := make([]byte, 0, len(symbols)*bps)

	for _, s := range symbols {
		bits = append(bits, c.Demap(s)...)
	}
	return bits
}

func bitsToIndex(bits []byte) int {
	idx := 0
	for _, b := range bits {
		idx = (idx << 1) | int(b&1)
	}
	return idx
}

func indexToBits(idx, numBits int) []byte {
	bits := make([]byte, numBits)
	for i := numBits - 1; i >= 0; i-- {
		bits[i] = byte(idx & 1)
		idx >>= 1
	}
	return bits
}
