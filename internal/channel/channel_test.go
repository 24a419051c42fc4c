package channel

import (
	"math"
	"testing"

	"github.com/iti/evt/evtm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

func txTag(t require.TestingT, device phytag.DeviceID) *phytag.Tag {
	frame, err := modem.BuildFrame(modem.ModeBPSK1_2, make([]byte, 16))
	require.NoError(t, err)
	tag, err := phytag.New(phytag.TxParams{
		Mode:           modem.ModeBPSK1_2,
		Samples:        frame,
		SampleDuration: modem.SampleDuration11a,
		Frequency:      5.9e9,
		Device:         device,
	})
	require.NoError(t, err)
	return tag
}

func TestChain_Accumulates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		losses := rapid.SliceOfN(rapid.Float64Range(-10, 120), 1, 5).Draw(rt, "losses")
		chain := make(Chain, len(losses))
		var want float64
		for i, l := range losses {
			chain[i] = FixedLoss{DB: l}
			want += l
		}
		tag := txTag(rt, 1)
		require.NoError(rt, chain.Apply(tag, 10))
		got, ok := tag.PathLoss()
		require.True(rt, ok)
		assert.InDelta(rt, want, got, 1e-9)
	})
}

func TestLossModels(t *testing.T) {
	assert.InDelta(t, 87.86, FreeSpaceLoss(100, 5.9e9), 0.01)
	assert.Zero(t, FreeSpaceLoss(0, 5.9e9))

	ld := LogDistance{Exponent: 3, ReferenceDistance: 1, ReferenceLoss: 47}
	assert.InDelta(t, 47, ld.Loss(0.5), 1e-12)
	assert.InDelta(t, 77, ld.Loss(10), 1e-9)

	tag := txTag(t, 1)
	require.NoError(t, Chain{FreeSpace{}, FixedLoss{DB: 3}}.Apply(tag, 100))
	got, _ := tag.PathLoss()
	assert.InDelta(t, FreeSpaceLoss(100, 5.9e9)+3, got, 1e-9)

	assert.Error(t, LogDistance{Exponent: 2}.Apply(txTag(t, 1), 5))
	assert.Error(t, ApplyPathLoss(txTag(t, 1), math.NaN()))
}

func TestAWGN_Power(t *testing.T) {
	a := NewAWGN("awgn-power", 2e-3)
	assert.InDelta(t, 2e-3, a.PowerMw(), 1e-15)
	n := a.Generate(40000)
	require.Len(t, n, 40000)
	assert.InDelta(t, 2e-3, n.Power(), 2e-3*0.05)

	var re, im float64
	for _, v := range n {
		re += real(v) * real(v)
		im += imag(v) * imag(v)
	}
	assert.InDelta(t, 1, re/im, 0.05, "circular")
}

func TestNoiseFloor(t *testing.T) {
	assert.InDelta(t, -100.99, NoiseFloorDbm(20e6, 0), 0.01)
	assert.InDelta(t, -97.0, NoiseFloorDbm(10e6, 7), 0.01)
	assert.InDelta(t, 1, DbmToMw(0), 1e-12)
	th := NewThermalAWGN("floor", 20e6, 0)
	assert.InDelta(t, DbmToMw(-100.99), th.PowerMw(), 1e-13)
}

func TestReceive(t *testing.T) {
	tag := txTag(t, 1)
	require.NoError(t, ApplyPathLoss(tag, 20))
	require.NoError(t, Receive(tag, 30, Silence{}))

	p, _ := tag.Tx()
	rx, ok := tag.RxSamples()
	require.True(t, ok)
	require.Len(t, rx, len(p.Samples)+30)
	assert.Zero(t, rx[:30].Power())
	assert.InDelta(t, p.Samples.Power()/100, rx[30:].Power(), 1e-12)

	noise, ok := tag.BackgroundNoise()
	require.True(t, ok)
	assert.Len(t, noise, len(rx))
	assert.Equal(t, phytag.PhaseArrived, tag.Phase())

	// Path loss is frozen once samples exist.
	assert.ErrorIs(t, ApplyPathLoss(tag, 1), phytag.ErrOutOfOrder)
}

type recorder struct {
	id   phytag.DeviceID
	tags []*phytag.Tag
}

func (r *recorder) Device() phytag.DeviceID { return r.id }

func (r *recorder) StartReceive(_ *evtm.EventManager, tag *phytag.Tag) error {
	r.tags = append(r.tags, tag)
	return nil
}

func TestMedium_Transmit(t *testing.T) {
	m := NewMedium(FixedLoss{DB: 40}, 8, nil)
	sender := &recorder{id: 1}
	near := &recorder{id: 2}
	unlinked := &recorder{id: 3}
	m.Attach(sender, nil)
	m.Attach(near, Silence{})
	m.Attach(unlinked, Silence{})
	require.NoError(t, m.Link(1, 2, 50))
	assert.Error(t, m.Link(2, 2, 1))
	assert.Error(t, m.Link(1, 3, -1))

	tag := txTag(t, 1)
	evtMgr := evtm.New()
	n, err := m.Transmit(evtMgr, tag)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	evtMgr.Run(1)

	require.Len(t, near.tags, 1)
	assert.Empty(t, sender.tags)
	assert.Empty(t, unlinked.tags)

	got := near.tags[0]
	assert.NotSame(t, tag, got)
	loss, ok := got.PathLoss()
	require.True(t, ok)
	assert.Equal(t, 40.0, loss)
	_, ok = tag.PathLoss()
	assert.False(t, ok, "original tag untouched")

	rx, _ := got.RxSamples()
	p, _ := tag.Tx()
	assert.Len(t, rx, len(p.Samples)+8)
}

func TestSetters(t *testing.T) {
	tag := txTag(t, 1)
	p, _ := tag.Tx()
	assert.Error(t, SetBackgroundNoise(tag, make(signal.Samples, len(p.Samples))))
	require.NoError(t, SetReceivedSamples(tag, p.Samples.Clone()))
	require.NoError(t, SetBackgroundNoise(tag, make(signal.Samples, len(p.Samples))))
}
