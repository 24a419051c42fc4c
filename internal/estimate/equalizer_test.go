package estimate

import (
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

func TestEstimate_FlatChannel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mag := rapid.Float64Range(0.01, 10).Draw(rt, "mag")
		phase := rapid.Float64Range(-math.Pi, math.Pi).Draw(rt, "phase")
		offset := rapid.IntRange(0, 100).Draw(rt, "offset")
		g := cmplx.Rect(mag, phase)

		rx := signal.Samples(modem.TrainingPreamble()).Scale(g).Delay(offset)
		est, err := NewEstimator().Estimate(rx, offset+modem.LongSymbolStart)
		require.NoError(rt, err)

		assert.InDelta(rt, real(g), real(est.Gain), 1e-9*mag)
		assert.InDelta(rt, imag(g), imag(est.Gain), 1e-9*mag)
		assert.InDelta(rt, 0, est.NoiseVariance, 1e-12*mag*mag)
		for _, k := range modem.UsedSubcarriers {
			h := est.Response[(k+modem.FFTSize)%modem.FFTSize]
			assert.InDelta(rt, 0, cmplx.Abs(h-g), 1e-9*mag, "subcarrier %d", k)
		}
		assert.Zero(rt, est.Response[0])
	})
}

func TestEstimate_NoiseVariance(t *testing.T) {
	// Opposite perturbations on the two long symbols at one subcarrier.
	rx := signal.Samples(modem.TrainingPreamble())
	bump := make([]complex128, modem.FFTSize)
	bump[5] = 0.1
	for i := 0; i < modem.FFTSize; i++ {
		rx[modem.LongSymbolStart+i] += bump[i]
		rx[modem.LongSymbolStart+modem.FFTSize+i] -= bump[i]
	}
	est, err := NewEstimator().Estimate(rx, modem.LongSymbolStart)
	require.NoError(t, err)
	assert.Greater(t, est.NoiseVariance, 0.0)
	assert.InDelta(t, 1, real(est.Gain), 1e-9)
}

func TestEstimate_ShortBuffer(t *testing.T) {
	rx := modem.TrainingPreamble()
	_, err := NewEstimator().Estimate(rx[:modem.PreambleLen-1], modem.LongSymbolStart)
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = NewEstimator().Estimate(rx, -1)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestEqualize_RecoversFrame(t *testing.T) {
	payload := make([]byte, 24*8)
	for i := range payload {
		payload[i] = byte(i*7+3) % 2
	}
	frame, err := modem.BuildFrame(modem.ModeQPSK3_4, payload)
	require.NoError(t, err)

	g := cmplx.Rect(0.02, 2.1)
	rx := signal.Samples(frame).Scale(g)
	est, err := NewEstimator().Estimate(rx, modem.LongSymbolStart)
	require.NoError(t, err)

	for _, kind := range []Kind{ZeroForcing, MMSE} {
		t.Run(kind.String(), func(t *testing.T) {
			h, bits, err := modem.ReceiveFrame(rx, est.Equalizer(kind))
			require.NoError(t, err)
			assert.Equal(t, modem.ModeQPSK3_4, h.Mode)
			assert.Equal(t, payload, bits)
		})
	}
}

func TestEqualize_LeavesUnusedBins(t *testing.T) {
	est := &Estimate{Response: make([]complex128, modem.FFTSize)}
	for _, k := range modem.UsedSubcarriers {
		est.Response[(k+modem.FFTSize)%modem.FFTSize] = 2
	}
	bins := make([]complex128, modem.FFTSize)
	for i := range bins {
		bins[i] = 4
	}
	out := est.Equalize(bins)
	assert.Equal(t, complex128(4), out[0])
	assert.Equal(t, complex128(4), out[32])
	assert.Equal(t, complex128(2), out[1])
	assert.Equal(t, complex128(4), bins[1], "input untouched")

	est.NoiseVariance = 4
	out = est.EqualizeMMSE(bins)
	assert.InDelta(t, 1, real(out[1]), 1e-12)
}

func TestEstimateTag(t *testing.T) {
	frame, err := modem.BuildFrame(modem.ModeBPSK1_2, make([]byte, 8))
	require.NoError(t, err)
	tag, err := phytag.New(phytag.TxParams{
		Mode:           modem.ModeBPSK1_2,
		Samples:        frame,
		SampleDuration: modem.SampleDuration11a,
		Duration:       time.Duration(len(frame)) * modem.SampleDuration11a,
	})
	require.NoError(t, err)

	e := NewEstimator()
	require.NoError(t, tag.SetRxSamples(signal.Samples(frame).Scale(0.5)))
	_, err = e.EstimateTag(tag)
	assert.ErrorIs(t, err, phytag.ErrNotAvailable)

	require.NoError(t, tag.SetShortSymbol(0, nil))
	require.NoError(t, tag.SetLongSymbol(modem.LongSymbolStart, nil))
	est, err := e.EstimateTag(tag)
	require.NoError(t, err)

	h, ok := tag.InitialEstimate()
	require.True(t, ok)
	assert.Equal(t, est.Gain, h)
	assert.InDelta(t, 0.5, real(h), 1e-9)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("MMSE")
	require.NoError(t, err)
	assert.Equal(t, MMSE, k)
	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, ZeroForcing, k)
	_, err = ParseKind("dfe")
	assert.Error(t, err)
}

func TestSubcarrierSNR(t *testing.T) {
	est := &Estimate{Response: make([]complex128, modem.FFTSize), NoiseVariance: 0.01}
	for _, k := range modem.UsedSubcarriers {
		est.Response[(k+modem.FFTSize)%modem.FFTSize] = 1
	}
	for _, v := range est.SubcarrierSNR() {
		assert.InDelta(t, 20, v, 1e-9)
	}
	est.NoiseVariance = 0
	assert.True(t, math.IsInf(est.SubcarrierSNR()[0], 1))
}
