package modem

import (
	"fmt"
	"time"

	"github.com/jeongseonghan/wifi-phy-sim/internal/fec"
)

// OFDM parameters
const (
	FFTSize              = 64
	DefaultGuardInterval = 16
	SymbolLen            = FFTSize + DefaultGuardInterval // 80 samples
	NumUsedSubcarriers   = 52
	NumPilots            = 4
	NumDataSubcarriers   = NumUsedSubcarriers - NumPilots

	SampleDuration11a = 50 * time.Nanosecond  // 20 MHz channel
	SampleDuration11p = 100 * time.Nanosecond // 10 MHz channel
)

// LengthMismatchError reports a bit sequence that cannot be segmented into
// whole blocks.
type LengthMismatchError struct {
	Bits  int
	Block int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("bit count %d is not a multiple of block size %d", e.Bits, e.Block)
}

// Equalizer removes the channel response from one symbol's FFT bins.
type Equalizer interface {
	Equalize(bins []complex128) []complex128
}

// Synthesizer converts data bits into OFDM symbols for one mode.
type Synthesizer struct {
	mode          Mode
	guard         int
	constellation *Constellation
	interleaver   *Interleaver
	transform     *symbolTransform
}

// NewSynthesizer creates a synthesizer. guard is the cyclic prefix length in
// samples.
func NewSynthesizer(mode Mode, guard int) (*Synthesizer, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("synthesizer: invalid mode %v", mode)
	}
	if guard < 0 || guard > FFTSize {
		return nil, fmt.Errorf("synthesizer: guard interval %d out of range", guard)
	}
	mod := mode.Modulation()
	return &Synthesizer{
		mode:          mode,
		guard:         guard,
		constellation: NewConstellation(mod),
		interleaver:   NewInterleaver(mode.CodedBitsPerSymbol(), mod.BitsPerSymbol()),
		transform:     newSymbolTransform(),
	}, nil
}

// Mode returns the configured mode.
func (s *Synthesizer) Mode() Mode { return s.mode }

// SymbolLen returns the samples per symbol including the cyclic prefix.
func (s *Synthesizer) SymbolLen() int { return FFTSize + s.guard }

// Synthesize converts data bits into payload symbols. len(bits) must be a
// multiple of the mode's data bits per symbol. Data symbols use pilot
// polarity indices starting at 1.
func (s *Synthesizer) Synthesize(bits []byte) ([]complex128, error) {
	return s.synthesize(bits, 1)
}

func (s *Synthesizer) synthesize(bits []byte, firstPilot int) ([]complex128, error) {
	dbps := s.mode.DataBitsPerSymbol()
	if len(bits) == 0 || len(bits)%dbps != 0 {
		return nil, &LengthMismatchError{Bits: len(bits), Block: dbps}
	}

	coded, err := fec.ConvEncode(bits, s.mode.CodeRate())
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	cbps := s.mode.CodedBitsPerSymbol()
	numSymbols := len(bits) / dbps
	samples := make([]complex128, 0, numSymbols*s.SymbolLen())
	for i := 0; i < numSymbols; i++ {
		interleaved, err := s.interleaver.Interleave(coded[i*cbps : (i+1)*cbps])
		if err != nil {
			return nil, err
		}
		samples = append(samples, s.modulateSymbol(interleaved, firstPilot+i)...)
	}
	return samples, nil
}

func (s *Synthesizer) modulateSymbol(codedBits []byte, pilotIndex int) []complex128 {
	// Map bits to constellation symbols
	dataSymbols := s.constellation.MapBits(codedBits)

	// Insert data and pilot symbols into the FFT bins
	bins := InsertPilots(dataSymbols, pilotIndex)

	// IFFT to time domain
	timeDomain := s.transform.toTime(bins)

	// Add cyclic prefix
	return addCyclicPrefix(timeDomain, s.guard)
}

// Demodulator converts received OFDM symbols back to data bits.
type Demodulator struct {
	mode          Mode
	guard         int
	constellation *Constellation
	interleaver   *Interleaver
	transform     *symbolTransform
	equalizer     Equalizer
}

// NewDemodulator creates an OFDM demodulator without equalization.
func NewDemodulator(mode Mode, guard int) (*Demodulator, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("demodulator: invalid mode %v", mode)
	}
	if guard < 0 || guard > FFTSize {
		return nil, fmt.Errorf("demodulator: guard interval %d out of range", guard)
	}
	mod := mode.Modulation()
	return &Demodulator{
		mode:          mode,
		guard:         guard,
		constellation: NewConstellation(mod),
		interleaver:   NewInterleaver(mode.CodedBitsPerSymbol(), mod.BitsPerSymbol()),
		transform:     newSymbolTransform(),
	}, nil
}

// SetEqualizer installs the channel equalizer; nil disables equalization.
func (d *Demodulator) SetEqualizer(eq Equalizer) {
	d.equalizer = eq
}

// Demodulate converts whole payload symbols back to data bits. Trailing
// samples that do not fill a symbol are ignored.
func (d *Demodulator) Demodulate(samples []complex128) ([]byte, error) {
	return d.demodulate(samples, 1)
}

func (d *Demodulator) demodulate(samples []complex128, firstPilot int) ([]byte, error) {
	symLen := FFTSize + d.guard
	numSymbols := len(samples) / symLen
	if numSymbols == 0 {
		return nil, fmt.Errorf("insufficient samples: %d < %d", len(samples), symLen)
	}

	coded := make([]byte, 0, numSymbols*d.mode.CodedBitsPerSymbol())
	for i := 0; i < numSymbols; i++ {
		bits, err := d.demodulateSymbol(samples[i*symLen:(i+1)*symLen], firstPilot+i)
		if err != nil {
			return nil, fmt.Errorf("symbol %d: %w", i, err)
		}
		coded = append(coded, bits...)
	}

	bits, err := fec.ViterbiDecode(coded, d.mode.CodeRate())
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return bits, nil
}

func (d *Demodulator) demodulateSymbol(samples []complex128, pilotIndex int) ([]byte, error) {
	// Remove cyclic prefix and go to the frequency domain
	bins, err := d.transform.toFreq(removeCyclicPrefix(samples, d.guard))
	if err != nil {
		return nil, err
	}

	if d.equalizer != nil {
		bins = d.equalizer.Equalize(bins)
	}

	// Common phase error from pilots
	phaseOffset := EstimatePhaseOffset(ExtractPilots(bins), pilotIndex)
	data := CorrectPhase(ExtractData(bins), phaseOffset)

	return d.interleaver.Deinterleave(d.constellation.DemapSymbols(data))
}

// PayloadSymbols returns the number of data symbols for a PSDU of length
// octets in mode.
func PayloadSymbols(mode Mode, length int) int {
	return mode.SymbolCount(length * 8)
}

// FrameLen returns the total samples of a frame: preamble, SIGNAL and data.
func FrameLen(mode Mode, length int) int {
	return PreambleLen + SymbolLen*(1+PayloadSymbols(mode, length))
}

// PadBits zero-extends bits to a whole number of symbols for mode.
func PadBits(bits []byte, mode Mode) []byte {
	dbps := mode.DataBitsPerSymbol()
	n := mode.SymbolCount(len(bits)) * dbps
	out := make([]byte, n)
	copy(out, bits)
	return out
}

// BuildFrame generates a complete transmittable frame:
// [Preamble][SIGNAL][Data symbols...]
// bits must be a whole number of octets; they are zero-padded to fill the
// last symbol.
func BuildFrame(mode Mode, bits []byte) ([]complex128, error) {
	if len(bits) == 0 || len(bits)%8 != 0 || len(bits)/8 > MaxLength {
		return nil, &LengthMismatchError{Bits: len(bits), Block: 8}
	}

	header, err := EncodeHeader(Header{Mode: mode, Length: len(bits) / 8})
	if err != nil {
		return nil, err
	}
	synth, err := NewSynthesizer(mode, DefaultGuardInterval)
	if err != nil {
		return nil, err
	}
	data, err := synth.Synthesize(PadBits(bits, mode))
	if err != nil {
		return nil, err
	}

	frame := make([]complex128, 0, PreambleLen+len(header)+len(data))
	frame = append(frame, preamble...)
	frame = append(frame, header...)
	frame = append(frame, data...)
	return frame, nil
}

// ReceiveFrame demodulates a frame that starts exactly at samples[0], using
// eq (may be nil) for equalization. It returns the SIGNAL field and the
// payload bits truncated to the signalled length.
func ReceiveFrame(samples []complex128, eq Equalizer) (Header, []byte, error) {
	headerStart := PreambleLen
	if headerStart+SymbolLen > len(samples) {
		return Header{}, nil, fmt.Errorf("insufficient samples for SIGNAL field")
	}
	h, err := DecodeHeader(samples[headerStart:headerStart+SymbolLen], eq)
	if err != nil {
		return Header{}, nil, err
	}

	dataStart := headerStart + SymbolLen
	dataEnd := dataStart + PayloadSymbols(h.Mode, h.Length)*SymbolLen
	if dataEnd > len(samples) {
		return h, nil, fmt.Errorf("insufficient samples: frame needs %d, have %d", dataEnd, len(samples))
	}

	demod, err := NewDemodulator(h.Mode, DefaultGuardInterval)
	if err != nil {
		return h, nil, err
	}
	demod.SetEqualizer(eq)
	bits, err := demod.Demodulate(samples[dataStart:dataEnd])
	if err != nil {
		return h, nil, fmt.Errorf("demodulation: %w", err)
	}
	return h, bits[:h.Length*8], nil
}
