package modem

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeongseonghan/wifi-phy-sim/internal/fec"
)

// Preamble identifies the preamble format of a transmission.
type Preamble uint8

const (
	// PreambleLong is the only format used by 802.11a and 802.11p OFDM.
	PreambleLong Preamble = iota
	PreambleShort
)

// String returns the preamble name.
func (p Preamble) String() string {
	switch p {
	case PreambleLong:
		return "long"
	case PreambleShort:
		return "short"
	default:
		return fmt.Sprintf("Preamble(%d)", uint8(p))
	}
}

// Mode is an OFDM transmission mode: a constellation and a code rate.
type Mode uint8

const (
	ModeBPSK1_2 Mode = iota
	ModeBPSK3_4
	ModeQPSK1_2
	ModeQPSK3_4
	Mode16QAM1_2
	Mode16QAM3_4
	Mode64QAM2_3
	Mode64QAM3_4
	numModes
)

type modeInfo struct {
	name     string
	mod      Modulation
	rate     fec.CodeRate
	rateBits byte // R1..R4 of the SIGNAL field, R1 in the MSB
}

var modeTable = [numModes]modeInfo{
	ModeBPSK1_2:  {"BPSK-1/2", ModBPSK, fec.Rate1_2, 0b1101},
	ModeBPSK3_4:  {"BPSK-3/4", ModBPSK, fec.Rate3_4, 0b1111},
	ModeQPSK1_2:  {"QPSK-1/2", ModQPSK, fec.Rate1_2, 0b0101},
	ModeQPSK3_4:  {"QPSK-3/4", ModQPSK, fec.Rate3_4, 0b0111},
	Mode16QAM1_2: {"16QAM-1/2", Mod16QAM, fec.Rate1_2, 0b1001},
	Mode16QAM3_4: {"16QAM-3/4", Mod16QAM, fec.Rate3_4, 0b1011},
	Mode64QAM2_3: {"64QAM-2/3", Mod64QAM, fec.Rate2_3, 0b0001},
	Mode64QAM3_4: {"64QAM-3/4", Mod64QAM, fec.Rate3_4, 0b0011},
}

// Modes returns every supported mode in ascending data rate.
func Modes() []Mode {
	out := make([]Mode, numModes)
	for i := range out {
		out[i] = Mode(i)
	}
	return out
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m < numModes }

// String returns the mode name, e.g. "QPSK-3/4".
func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
	return modeTable[m].name
}

// Modulation returns the subcarrier constellation.
func (m Mode) Modulation() Modulation { return modeTable[m].mod }

// CodeRate returns the convolutional code rate.
func (m Mode) CodeRate() fec.CodeRate { return modeTable[m].rate }

// CodedBitsPerSymbol returns N_CBPS.
func (m Mode) CodedBitsPerSymbol() int {
	return NumDataSubcarriers * m.Modulation().BitsPerSymbol()
}

// DataBitsPerSymbol returns N_DBPS, the segmentation block size.
func (m Mode) DataBitsPerSymbol() int {
	num, den := m.CodeRate().Fraction()
	return m.CodedBitsPerSymbol() * num / den
}

// DataRate returns the data rate in bits per second for the given sample
// duration.
func (m Mode) DataRate(sampleDuration time.Duration) float64 {
	symbol := SymbolDuration(sampleDuration, DefaultGuardInterval).Seconds()
	if symbol == 0 {
		return 0
	}
	return float64(m.DataBitsPerSymbol()) / symbol
}

// SymbolCount returns the number of data OFDM symbols needed for n bits.
func (m Mode) SymbolCount(n int) int {
	dbps := m.DataBitsPerSymbol()
	return (n + dbps - 1) / dbps
}

// ParseMode accepts names like "QPSK-3/4" or "qpsk34".
func ParseMode(s string) (Mode, error) {
	norm := func(v string) string {
		v = strings.ToLower(v)
		return strings.NewReplacer("-", "", "/", "", "_", "", " ", "").Replace(v)
	}
	want := norm(s)
	for _, m := range Modes() {
		if norm(m.String()) == want {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

func modeFromRateBits(b byte) (Mode, bool) {
	for _, m := range Modes() {
		if modeTable[m].rateBits == b {
			return m, true
		}
	}
	return 0, false
}

// SymbolDuration returns the duration of one OFDM symbol including guard
// interval.
func SymbolDuration(sampleDuration time.Duration, guard int) time.Duration {
	return time.Duration(FFTSize+guard) * sampleDuration
}
