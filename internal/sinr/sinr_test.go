package sinr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

func constant(n int, v complex128) signal.Samples {
	s := make(signal.Samples, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestRatio(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		db := rapid.Float64Range(-20, 80).Draw(rt, "db")
		n := rapid.IntRange(1, 500).Draw(rt, "n")
		noise := constant(n, complex(math.Pow(10, -db/20), 0))
		rx := constant(n, 1i).Add(noise)

		got, err := Ratio(rx, noise, Segment{0, n})
		require.NoError(rt, err)
		assert.InDelta(rt, db, got, 1e-6)
	})
}

func TestRatio_ZeroNoise(t *testing.T) {
	got, err := Ratio(constant(10, 1), constant(10, 0), Segment{2, 8})
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, 1))
}

func TestRatio_BadSegment(t *testing.T) {
	rx := constant(10, 1)
	for _, seg := range []Segment{{-1, 5}, {5, 5}, {0, 11}} {
		_, err := Ratio(rx, rx, seg)
		assert.ErrorIs(t, err, ErrSegment, "%v", seg)
	}
}

func TestSegmentsFor(t *testing.T) {
	s := SegmentsFor(10, 202, 3)
	assert.Equal(t, Segment{10, 330}, s.Preamble)
	assert.Equal(t, Segment{330, 410}, s.Header)
	assert.Equal(t, Segment{410, 650}, s.Payload)
	assert.Equal(t, Segment{10, 650}, s.Overall)
}

// syncedTag returns a tag for a 2 octet BPSK frame with a 40 dB SINR, delay
// samples of noise ahead of it, synchronized at the exact indices.
func syncedTag(t *testing.T, delay int) *phytag.Tag {
	bits := make(signal.Bits, 16)
	frame, err := modem.BuildFrame(modem.ModeBPSK1_2, bits)
	require.NoError(t, err)
	tag, err := phytag.New(phytag.TxParams{
		Mode:           modem.ModeBPSK1_2,
		Bits:           bits,
		Samples:        frame,
		SampleDuration: modem.SampleDuration11a,
	})
	require.NoError(t, err)

	rx := signal.Samples(frame).Delay(delay)
	noise := constant(len(rx), 0.01)
	require.NoError(t, tag.SetRxSamples(rx.Add(noise)))
	require.NoError(t, tag.SetBackgroundNoise(noise))
	require.NoError(t, tag.SetShortSymbol(delay, nil))
	require.NoError(t, tag.SetLongSymbol(delay+modem.LongSymbolStart, nil))
	return tag
}

func TestCalculator_Stages(t *testing.T) {
	tag := syncedTag(t, 5)
	c := NewCalculator(DefaultConfig())

	db, ok, err := c.Preamble(tag)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 40, db, 0.5)
	got, set := tag.PreambleSinr()
	assert.True(t, set)
	assert.Equal(t, db, got)

	// Header SINR needs the decoded header.
	_, _, err = c.Header(tag)
	assert.ErrorIs(t, err, phytag.ErrOutOfOrder)

	require.NoError(t, tag.SetHeader(phytag.Header{Mode: modem.ModeBPSK1_2, Length: 2}))
	db, ok, err = c.Header(tag)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 40, db, 1)

	_, _, err = c.Payload(tag)
	assert.ErrorIs(t, err, phytag.ErrOutOfOrder)
	require.NoError(t, tag.SetRxBits(make(signal.Bits, 16)))
	_, ok, err = c.Payload(tag)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = c.Overall(tag)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, phytag.PhaseDecoded, tag.Phase())
}

func TestCalculator_Disabled(t *testing.T) {
	tag := syncedTag(t, 0)
	c := NewCalculator(Config{CalculateHeaderSinr: true})

	_, ok, err := c.Preamble(tag)
	require.NoError(t, err)
	assert.False(t, ok)
	_, set := tag.PreambleSinr()
	assert.False(t, set, "disabled metric stays unset")

	require.NoError(t, tag.SetHeader(phytag.Header{Mode: modem.ModeBPSK1_2, Length: 2}))
	require.NoError(t, tag.SetRxBits(make(signal.Bits, 16)))
	for _, f := range []func(*phytag.Tag) (float64, bool, error){c.Payload, c.Overall} {
		_, ok, err := f(tag)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	_, set = tag.OverallSinr()
	assert.False(t, set)
}

func TestCalculator_NeedsNoise(t *testing.T) {
	bits := make(signal.Bits, 8)
	frame, err := modem.BuildFrame(modem.ModeBPSK1_2, bits)
	require.NoError(t, err)
	tag, err := phytag.New(phytag.TxParams{Mode: modem.ModeBPSK1_2, Samples: frame, SampleDuration: modem.SampleDuration11a})
	require.NoError(t, err)
	require.NoError(t, tag.SetRxSamples(frame))
	require.NoError(t, tag.SetShortSymbol(0, nil))
	require.NoError(t, tag.SetLongSymbol(modem.LongSymbolStart, nil))

	_, _, err = NewCalculator(DefaultConfig()).Preamble(tag)
	assert.ErrorIs(t, err, phytag.ErrNotAvailable)
}
