package modem

import (
	"math"
)

// PLCP preamble layout, in samples at the OFDM sample rate.
const (
	ShortPeriod     = 16                      // one short training symbol
	ShortFieldLen   = 10 * ShortPeriod        // ten repetitions
	LongGuardLen    = 2 * DefaultGuardInterval // GI2
	LongFieldLen    = LongGuardLen + 2*FFTSize
	PreambleLen     = ShortFieldLen + LongFieldLen
	LongSymbolStart = ShortFieldLen + LongGuardLen // first long symbol, relative to preamble start
)

// shortSpectrum returns the short training sequence in FFT bin order.
func shortSpectrum() []complex128 {
	s := complex(math.Sqrt(13.0/6.0), 0)
	p, n := (1+1i)*s, (-1-1i)*s
	entries := map[int]complex128{
		-24: p, -20: n, -16: p, -12: n, -8: n, -4: p,
		4: n, 8: n, 12: p, 16: p, 20: p, 24: p,
	}
	bins := make([]complex128, FFTSize)
	for k, v := range entries {
		bins[binIndex(k)] = v
	}
	return bins
}

// longSequence is L(k) for k = -26..26.
var longSequence = [NumUsedSubcarriers + 1]float64{
	1, 1, -1, -1, 1, 1, -1, 1, -1, 1, 1, 1, 1, 1, 1, -1, -1, 1, 1, -1, 1, -1, 1, 1, 1, 1,
	0,
	1, -1, -1, 1, 1, -1, 1, -1, 1, -1, -1, -1, -1, -1, 1, 1, -1, -1, 1, -1, 1, -1, 1, 1, 1, 1,
}

// LongTrainingValue returns L(k) for logical subcarrier k, 0 outside the
// used band.
func LongTrainingValue(k int) complex128 {
	if !IsUsed(k) {
		return 0
	}
	return complex(longSequence[k+NumUsedSubcarriers/2], 0)
}

// LongTrainingSpectrum returns L(k) in FFT bin order.
func LongTrainingSpectrum() []complex128 {
	bins := make([]complex128, FFTSize)
	for _, k := range UsedSubcarriers {
		bins[binIndex(k)] = LongTrainingValue(k)
	}
	return bins
}

var (
	shortSymbol []complex128 // 64 samples, period ShortPeriod
	longSymbol  []complex128 // 64 samples
	preamble    []complex128
)

func init() {
	st := newSymbolTransform()
	shortSymbol = st.toTime(shortSpectrum())
	longSymbol = st.toTime(LongTrainingSpectrum())

	preamble = make([]complex128, 0, PreambleLen)
	for n := 0; n < ShortFieldLen; n++ {
		preamble = append(preamble, shortSymbol[n%FFTSize])
	}
	preamble = append(preamble, longSymbol[FFTSize-LongGuardLen:]...)
	preamble = append(preamble, longSymbol...)
	preamble = append(preamble, longSymbol...)
}

// ShortTrainingSymbol returns one period of the short training field.
func ShortTrainingSymbol() []complex128 {
	return cloneSamples(shortSymbol[:ShortPeriod])
}

// ShortTrainingField returns the 160-sample short training field.
func ShortTrainingField() []complex128 {
	return cloneSamples(preamble[:ShortFieldLen])
}

// LongTrainingSymbol returns one 64-sample long training symbol.
func LongTrainingSymbol() []complex128 {
	return cloneSamples(longSymbol)
}

// LongTrainingField returns GI2 followed by two long training symbols.
func LongTrainingField() []complex128 {
	return cloneSamples(preamble[ShortFieldLen:])
}

// TrainingPreamble returns the full 320-sample PLCP preamble.
func TrainingPreamble() []complex128 {
	return cloneSamples(preamble)
}

func cloneSamples(s []complex128) []complex128 {
	out := make([]complex128, len(s))
	copy(out, s)
	return out
}
