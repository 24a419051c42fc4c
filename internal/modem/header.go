package modem

import (
	"errors"
	"fmt"
)

// SIGNAL field layout.
const (
	HeaderBits   = 24
	MaxLength    = 1<<12 - 1 // LENGTH is a 12-bit octet count
	headerLenPos = 5
	parityPos    = 17
)

// ErrInvalidHeader is returned when a SIGNAL field fails validation.
var ErrInvalidHeader = errors.New("invalid SIGNAL field")

// headerMode is the fixed mode of the SIGNAL symbol.
const headerMode = ModeBPSK1_2

// Header is the content of the SIGNAL field.
type Header struct {
	Mode   Mode
	Length int // PSDU length in octets
}

// Bits returns the 24-bit SIGNAL field.
func (h Header) Bits() ([]byte, error) {
	if !h.Mode.Valid() {
		return nil, fmt.Errorf("header: invalid mode %v", h.Mode)
	}
	if h.Length < 1 || h.Length > MaxLength {
		return nil, fmt.Errorf("header: length %d out of range [1, %d]", h.Length, MaxLength)
	}

	bits := make([]byte, HeaderBits)
	rate := modeTable[h.Mode].rateBits
	for i := 0; i < 4; i++ {
		bits[i] = (rate >> uint(3-i)) & 1
	}
	for i := 0; i < 12; i++ {
		bits[headerLenPos+i] = byte(h.Length>>uint(i)) & 1
	}
	bits[parityPos] = parity(bits[:parityPos])
	return bits, nil
}

// ParseHeader validates and decodes a 24-bit SIGNAL field.
func ParseHeader(bits []byte) (Header, error) {
	if len(bits) != HeaderBits {
		return Header{}, fmt.Errorf("%w: %d bits", ErrInvalidHeader, len(bits))
	}
	if parity(bits[:parityPos+1]) != 0 {
		return Header{}, fmt.Errorf("%w: parity", ErrInvalidHeader)
	}
	if bits[4] != 0 {
		return Header{}, fmt.Errorf("%w: reserved bit set", ErrInvalidHeader)
	}

	var rate byte
	for i := 0; i < 4; i++ {
		rate = rate<<1 | bits[i]&1
	}
	mode, ok := modeFromRateBits(rate)
	if !ok {
		return Header{}, fmt.Errorf("%w: rate code %04b", ErrInvalidHeader, rate)
	}

	length := 0
	for i := 0; i < 12; i++ {
		length |= int(bits[headerLenPos+i]&1) << uint(i)
	}
	if length == 0 {
		return Header{}, fmt.Errorf("%w: zero length", ErrInvalidHeader)
	}
	return Header{Mode: mode, Length: length}, nil
}

func parity(bits []byte) byte {
	var p byte
	for _, b := range bits {
		p ^= b & 1
	}
	return p
}

// EncodeHeader synthesizes the SIGNAL symbol for h.
func EncodeHeader(h Header) ([]complex128, error) {
	bits, err := h.Bits()
	if err != nil {
		return nil, err
	}
	s, err := NewSynthesizer(headerMode, DefaultGuardInterval)
	if err != nil {
		return nil, err
	}
	return s.synthesize(bits, 0)
}

// DecodeHeader demodulates and validates one SIGNAL symbol.
func DecodeHeader(samples []complex128, eq Equalizer) (Header, error) {
	d, err := NewDemodulator(headerMode, DefaultGuardInterval)
	if err != nil {
		return Header{}, err
	}
	d.SetEqualizer(eq)
	bits, err := d.demodulate(samples, 0)
	if err != nil {
		return Header{}, fmt.Errorf("header: %w", err)
	}
	return ParseHeader(bits)
}
