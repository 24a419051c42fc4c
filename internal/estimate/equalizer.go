// Package estimate derives the initial channel estimate from the two long
// training symbols and equalizes subcarriers with it.
package estimate

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
)

// ErrShortBuffer is returned when the rx samples end before the second long
// training symbol.
var ErrShortBuffer = errors.New("rx samples end inside the long training field")

// minGain is the smallest |H(k)| the zero-forcing equalizer divides by.
const minGain = 1e-10

// Kind selects the equalization rule.
type Kind int

const (
	ZeroForcing Kind = iota
	MMSE
)

func (k Kind) String() string {
	if k == MMSE {
		return "mmse"
	}
	return "zf"
}

// ParseKind accepts "zf" or "mmse".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zf":
		return ZeroForcing, nil
	case "mmse":
		return MMSE, nil
	default:
		return 0, fmt.Errorf("unknown equalizer %q", s)
	}
}

// Estimate is the channel state inferred from one preamble.
type Estimate struct {
	// Response is H(k) in FFT bin order; unused bins are zero.
	Response []complex128
	// Gain is the mean of H(k) over the used subcarriers.
	Gain complex128
	// NoiseVariance is the per-subcarrier noise variance seen in the bins.
	NoiseVariance float64
}

// Estimator runs least-squares estimation against the known long training
// sequence.
type Estimator struct {
	reference []complex128
}

// NewEstimator creates an estimator.
func NewEstimator() *Estimator {
	return &Estimator{reference: modem.LongTrainingSpectrum()}
}

// Estimate computes the channel estimate from the two long training
// symbols starting at longStart.
func (e *Estimator) Estimate(rx []complex128, longStart int) (*Estimate, error) {
	end := longStart + 2*modem.FFTSize
	if longStart < 0 || end > len(rx) {
		return nil, fmt.Errorf("estimate at %d of %d: %w", longStart, len(rx), ErrShortBuffer)
	}
	y1, err := modem.Spectrum(rx[longStart : longStart+modem.FFTSize])
	if err != nil {
		return nil, fmt.Errorf("first long symbol: %w", err)
	}
	y2, err := modem.Spectrum(rx[longStart+modem.FFTSize : end])
	if err != nil {
		return nil, fmt.Errorf("second long symbol: %w", err)
	}

	est := &Estimate{Response: make([]complex128, modem.FFTSize)}
	diff := make([]float64, 0, modem.NumUsedSubcarriers)
	var sum complex128
	for _, k := range modem.UsedSubcarriers {
		b := (k + modem.FFTSize) % modem.FFTSize
		// H(k) = mean(Y1, Y2) / L(k)
		h := (y1[b] + y2[b]) / 2 / e.reference[b]
		est.Response[b] = h
		sum += h

		d := y1[b] - y2[b]
		diff = append(diff, real(d)*real(d)+imag(d)*imag(d))
	}
	n := float64(modem.NumUsedSubcarriers)
	est.Gain = sum / complex(n, 0)
	// Y1-Y2 carries twice the per-symbol noise variance.
	est.NoiseVariance = floats.Sum(diff) / n / 2
	return est, nil
}

// EstimateTag estimates the channel of a synchronized tag and records the
// scalar estimate on it.
func (e *Estimator) EstimateTag(tag *phytag.Tag) (*Estimate, error) {
	rx, ok := tag.RxSamples()
	if !ok {
		return nil, fmt.Errorf("estimate: rx samples: %w", phytag.ErrNotAvailable)
	}
	long, ok := tag.LongSymbol()
	if !ok {
		return nil, fmt.Errorf("estimate: long symbol: %w", phytag.ErrNotAvailable)
	}
	est, err := e.Estimate(rx, long.Start)
	if err != nil {
		return nil, err
	}
	if err := tag.SetInitialEstimate(est.Gain); err != nil {
		return nil, err
	}
	return est, nil
}

// Equalize performs zero-forcing equalization on one symbol's bins.
func (e *Estimate) Equalize(bins []complex128) []complex128 {
	out := make([]complex128, len(bins))
	copy(out, bins)
	for _, k := range modem.UsedSubcarriers {
		b := (k + modem.FFTSize) % modem.FFTSize
		if b >= len(out) {
			continue
		}
		if h := e.Response[b]; cmplx.Abs(h) > minGain {
			out[b] = bins[b] / h
		}
	}
	return out
}

// EqualizeMMSE performs MMSE equalization (more robust in noisy conditions).
func (e *Estimate) EqualizeMMSE(bins []complex128) []complex128 {
	out := make([]complex128, len(bins))
	copy(out, bins)
	for _, k := range modem.UsedSubcarriers {
		b := (k + modem.FFTSize) % modem.FFTSize
		if b >= len(out) {
			continue
		}
		h := e.Response[b]
		hPow := real(h)*real(h) + imag(h)*imag(h)
		if hPow+e.NoiseVariance > minGain {
			// W(k) = H*(k) / (|H(k)|² + σ²)
			out[b] = bins[b] * cmplx.Conj(h) / complex(hPow+e.NoiseVariance, 0)
		}
	}
	return out
}

// Equalizer returns the estimate as a modem.Equalizer using rule kind.
func (e *Estimate) Equalizer(kind Kind) modem.Equalizer {
	if kind == MMSE {
		return mmse{e}
	}
	return e
}

type mmse struct{ e *Estimate }

func (m mmse) Equalize(bins []complex128) []complex128 { return m.e.EqualizeMMSE(bins) }

// SubcarrierSNR returns |H(k)|²/σ² in dB for each used subcarrier, in
// UsedSubcarriers order. A noiseless estimate yields +Inf.
func (e *Estimate) SubcarrierSNR() []float64 {
	snr := make([]float64, len(modem.UsedSubcarriers))
	for i, k := range modem.UsedSubcarriers {
		h := e.Response[(k+modem.FFTSize)%modem.FFTSize]
		p := real(h)*real(h) + imag(h)*imag(h)
		if e.NoiseVariance == 0 {
			snr[i] = math.Inf(1)
			continue
		}
		snr[i] = 10 * math.Log10(p/e.NoiseVariance)
	}
	return snr
}
