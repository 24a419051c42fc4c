package phytag

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

func newTestTag(t testing.TB) *Tag {
	t.Helper()
	tag, err := New(TxParams{
		Mode:           modem.ModeBPSK1_2,
		Duration:       40 * time.Microsecond,
		Bits:           signal.Bits{1, 0, 1, 1, 0, 0, 1, 0},
		Samples:        signal.Samples{1, 1i, -1, -1i},
		Frequency:      5.9e9,
		SampleDuration: modem.SampleDuration11p,
		Device:         7,
		PowerDbm:       16,
	})
	require.NoError(t, err)
	return tag
}

func TestNew_Validates(t *testing.T) {
	_, err := New(TxParams{Mode: modem.ModeBPSK1_2, SampleDuration: time.Nanosecond})
	assert.Error(t, err)
	_, err = New(TxParams{Mode: modem.Mode(99), Samples: signal.Samples{1}, SampleDuration: time.Nanosecond})
	assert.Error(t, err)

	tag := newTestTag(t)
	assert.True(t, tag.IsTxed())
	assert.False(t, tag.IsCaptured())
	assert.Equal(t, PhaseTransmitted, tag.Phase())
	assert.False(t, (&Tag{}).IsTxed())
}

func TestTx_ReturnsCopy(t *testing.T) {
	bits := signal.Bits{1, 0, 1}
	samples := signal.Samples{1, 1i}
	tag, err := New(TxParams{
		Mode:           modem.ModeQPSK1_2,
		Bits:           bits,
		Samples:        samples,
		SampleDuration: modem.SampleDuration11a,
	})
	require.NoError(t, err)

	bits[0] = 0
	samples[0] = 42

	p, ok := tag.Tx()
	require.True(t, ok)
	assert.Equal(t, signal.Bits{1, 0, 1}, p.Bits)
	assert.Equal(t, signal.Samples{1, 1i}, p.Samples)

	p.Bits[1] = 1
	p.Samples[1] = 99
	again, _ := tag.Tx()
	assert.Equal(t, signal.Bits{1, 0, 1}, again.Bits)
	assert.Equal(t, signal.Samples{1, 1i}, again.Samples)

	_, ok = (&Tag{}).Tx()
	assert.False(t, ok)
}

func TestPathLossChaining(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l1 := rapid.Float64Range(-50, 200).Draw(rt, "l1")
		l2 := rapid.Float64Range(-50, 200).Draw(rt, "l2")

		tag := newTestTag(t)
		_, ok := tag.PathLoss()
		assert.False(rt, ok)

		require.NoError(rt, tag.AddPathLoss(l1))
		require.NoError(rt, tag.AddPathLoss(l2))
		got, ok := tag.PathLoss()
		require.True(rt, ok)
		assert.InDelta(rt, l1+l2, got, 1e-9)
	})
}

func TestPathLoss_Ordering(t *testing.T) {
	assert.ErrorIs(t, (&Tag{}).AddPathLoss(3), ErrOutOfOrder)

	tag := newTestTag(t)
	require.NoError(t, tag.SetRxSamples(signal.Samples{1, 2, 3, 4, 5}))
	assert.ErrorIs(t, tag.AddPathLoss(3), ErrOutOfOrder)
}

func TestRxGroups_Gating(t *testing.T) {
	tag := newTestTag(t)

	assert.ErrorIs(t, tag.SetBackgroundNoise(signal.Samples{0, 0, 0, 0}), ErrOutOfOrder)
	assert.Error(t, tag.SetRxSamples(signal.Samples{1, 2}), "shorter than tx")

	rx := signal.Samples{1, 2, 3, 4, 5, 6}
	require.NoError(t, tag.SetRxSamples(rx))
	assert.ErrorIs(t, tag.SetRxSamples(rx), ErrAlreadySet)
	assert.Error(t, tag.SetBackgroundNoise(signal.Samples{0}))
	require.NoError(t, tag.SetBackgroundNoise(make(signal.Samples, len(rx))))
	assert.Equal(t, PhaseArrived, tag.Phase())

	assert.ErrorIs(t, tag.SetLongSymbol(3, nil), ErrOutOfOrder)
	assert.ErrorIs(t, tag.MarkCaptured(), ErrOutOfOrder)
	assert.Error(t, tag.SetShortSymbol(len(rx), nil))
	require.NoError(t, tag.SetShortSymbol(2, []float64{0.1, 0.9}))
	assert.Error(t, tag.SetLongSymbol(1, nil), "long before short")
	assert.Error(t, tag.SetLongSymbol(len(rx), nil), "long past rx samples")

	assert.ErrorIs(t, tag.SetInitialEstimate(1), ErrOutOfOrder)
	assert.ErrorIs(t, tag.SetHeader(Header{Mode: modem.ModeBPSK1_2, Length: 1}), ErrOutOfOrder)
	assert.ErrorIs(t, tag.SetPreambleSinr(10), ErrOutOfOrder)

	require.NoError(t, tag.SetLongSymbol(4, []float64{0.5}))
	require.NoError(t, tag.SetInitialEstimate(0.5+0.5i))
	require.NoError(t, tag.SetPreambleSinr(10))
	assert.Equal(t, PhaseSynchronized, tag.Phase())

	assert.ErrorIs(t, tag.SetRxBits(signal.Bits{1}), ErrOutOfOrder)
	assert.ErrorIs(t, tag.SetHeaderSinr(3), ErrOutOfOrder)
	require.NoError(t, tag.SetHeader(Header{Mode: modem.ModeBPSK1_2, Length: 1}))
	require.NoError(t, tag.SetHeaderSinr(3))

	assert.ErrorIs(t, tag.SetPayloadSinr(1), ErrOutOfOrder)
	assert.ErrorIs(t, tag.SetOverallSinr(1), ErrOutOfOrder)
	require.NoError(t, tag.SetRxBits(signal.Bits{1, 0, 1, 1, 0, 0, 1, 1}))
	require.NoError(t, tag.SetPayloadSinr(1))
	require.NoError(t, tag.SetOverallSinr(2))
	assert.ErrorIs(t, tag.SetOverallSinr(2), ErrAlreadySet)
	assert.Equal(t, PhaseDecoded, tag.Phase())

	n, err := tag.BitErrors()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSinr_UnsetIsDistinctFromZero(t *testing.T) {
	tag := arrivedTag(t)
	require.NoError(t, tag.SetShortSymbol(0, nil))
	require.NoError(t, tag.SetLongSymbol(0, nil))
	require.NoError(t, tag.SetPreambleSinr(0))

	v, ok := tag.PreambleSinr()
	assert.True(t, ok)
	assert.Zero(t, v)

	for _, get := range []func() (float64, bool){tag.HeaderSinr, tag.PayloadSinr, tag.OverallSinr} {
		_, ok := get()
		assert.False(t, ok)
	}
}

func TestCaptured_Irreversible(t *testing.T) {
	tag := arrivedTag(t)
	require.NoError(t, tag.SetShortSymbol(1, nil))
	require.NoError(t, tag.MarkCaptured())
	assert.True(t, tag.IsCaptured())
	assert.True(t, errors.Is(tag.MarkCaptured(), ErrAlreadySet))
	assert.True(t, tag.IsCaptured())
}

func TestRxDevice(t *testing.T) {
	assert.ErrorIs(t, (&Tag{}).SetRxDevice(1), ErrOutOfOrder)

	tag := newTestTag(t)
	_, ok := tag.RxDevice()
	assert.False(t, ok)
	require.NoError(t, tag.SetRxDevice(3))
	id, ok := tag.RxDevice()
	assert.True(t, ok)
	assert.Equal(t, DeviceID(3), id)
	assert.ErrorIs(t, tag.SetRxDevice(4), ErrAlreadySet)
}

func TestBitErrors_NotAvailable(t *testing.T) {
	_, err := newTestTag(t).BitErrors()
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestClone_Independent(t *testing.T) {
	tag := arrivedTag(t)
	require.NoError(t, tag.SetShortSymbol(1, []float64{1, 2}))

	c := tag.Clone()
	rx, _ := c.RxSamples()
	rx[0] = 99
	ss, _ := c.ShortSymbol()
	ss.Trace[0] = 42
	require.NoError(t, c.SetLongSymbol(2, nil))

	orig, _ := tag.RxSamples()
	assert.NotEqual(t, complex128(99), orig[0])
	os, _ := tag.ShortSymbol()
	assert.Equal(t, 1.0, os.Trace[0])
	_, ok := tag.LongSymbol()
	assert.False(t, ok)
}

func TestString_RendersUnset(t *testing.T) {
	tag := newTestTag(t)
	s := tag.String()
	assert.Contains(t, s, "BPSK-1/2")
	assert.Contains(t, s, "phase=transmitted")
	assert.Contains(t, s, "overall sinr:    <unset>")

	require.NoError(t, tag.AddPathLoss(0))
	assert.Contains(t, tag.String(), "path loss:       0.00 dB")
	assert.Contains(t, (&Tag{}).String(), "tx:              <unset>")
	assert.Equal(t, 15, strings.Count((&Tag{}).String(), unset))
}

func arrivedTag(t testing.TB) *Tag {
	t.Helper()
	tag := newTestTag(t)
	require.NoError(t, tag.SetRxSamples(signal.Samples{1, 2, 3, 4}))
	require.NoError(t, tag.SetBackgroundNoise(signal.Samples{0, 0, 0, 0}))
	return tag
}
