package modem

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT computes the unnormalized discrete Fourier transform of x.
func FFT(x []complex128) []complex128 {
	if len(x) <= 1 {
		out := make([]complex128, len(x))
		copy(out, x)
		return out
	}
	return fourier.NewCmplxFFT(len(x)).Coefficients(nil, x)
}

// IFFT computes the inverse discrete Fourier transform, scaled by 1/N.
func IFFT(x []complex128) []complex128 {
	n := len(x)
	if n <= 1 {
		out := make([]complex128, n)
		copy(out, x)
		return out
	}
	out := fourier.NewCmplxFFT(n).Sequence(nil, x)
	scale := complex(1/float64(n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// symbolTransform converts between the 64-bin subcarrier spectrum and a
// time-domain OFDM symbol of unit average power. It is not safe for
// concurrent use.
type symbolTransform struct {
	plan    *fourier.CmplxFFT
	txScale complex128
	rxScale complex128
}

func newSymbolTransform() *symbolTransform {
	used := float64(NumUsedSubcarriers)
	return &symbolTransform{
		plan:    fourier.NewCmplxFFT(FFTSize),
		txScale: complex(1/math.Sqrt(used), 0),
		rxScale: complex(math.Sqrt(used)/FFTSize, 0),
	}
}

// toTime returns FFTSize time-domain samples for the given bins.
func (st *symbolTransform) toTime(bins []complex128) []complex128 {
	out := st.plan.Sequence(nil, bins)
	for i := range out {
		out[i] *= st.txScale
	}
	return out
}

// toFreq is the inverse of toTime.
func (st *symbolTransform) toFreq(samples []complex128) ([]complex128, error) {
	if len(samples) != FFTSize {
		return nil, fmt.Errorf("fft: got %d samples, want %d", len(samples), FFTSize)
	}
	out := st.plan.Coefficients(nil, samples)
	for i := range out {
		out[i] *= st.rxScale
	}
	return out, nil
}

// binIndex maps a logical subcarrier index in [-32, 31] to its FFT bin.
func binIndex(k int) int {
	return (k + FFTSize) % FFTSize
}

// addCyclicPrefix prepends the last guard samples of symbol.
func addCyclicPrefix(symbol []complex128, guard int) []complex128 {
	n := len(symbol)
	out := make([]complex128, guard+n)
	copy(out, symbol[n-guard:])
	copy(out[guard:], symbol)
	return out
}

func removeCyclicPrefix(samples []complex128, guard int) []complex128 {
	if len(samples) <= guard {
		return samples
	}
	return samples[guard:]
}

// Spectrum returns the subcarrier bins of one FFTSize-sample symbol (cyclic
// prefix already removed), scaled as the demodulator sees them.
func Spectrum(samples []complex128) ([]complex128, error) {
	return newSymbolTransform().toFreq(samples)
}
