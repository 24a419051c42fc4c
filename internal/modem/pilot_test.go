package modem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPilotPolarity_Prefix(t *testing.T) {
	want := []float64{1, 1, 1, 1, -1, -1, -1, 1, -1, -1, -1, -1, 1, 1, -1, 1}
	for i, w := range want {
		assert.Equal(t, w, PilotPolarity(i), "p_%d", i)
	}
	assert.Equal(t, PilotPolarity(0), PilotPolarity(127))
}

func TestSubcarrierSets(t *testing.T) {
	assert.Len(t, DataSubcarriers, NumDataSubcarriers)
	assert.Len(t, UsedSubcarriers, NumUsedSubcarriers)
	assert.Equal(t, -26, DataSubcarriers[0])
	assert.Equal(t, 26, DataSubcarriers[len(DataSubcarriers)-1])
	for _, k := range DataSubcarriers {
		assert.False(t, IsPilot(k))
		assert.NotZero(t, k)
	}
}

func TestPilots_InsertExtract(t *testing.T) {
	data := make([]complex128, NumDataSubcarriers)
	for i := range data {
		data[i] = complex(float64(i), 0)
	}
	bins := InsertPilots(data, 4)

	assert.Equal(t, data, ExtractData(bins))
	pilots := ExtractPilots(bins)
	want := PilotValues(4)
	assert.Equal(t, want[:], pilots)
	assert.Equal(t, complex128(1), pilots[3]) // p_4 = -1, base -1
}

func TestPhaseCorrection(t *testing.T) {
	const offset = 0.3
	pilots := PilotValues(9)
	rotated := CorrectPhase(pilots[:], -offset)

	got := EstimatePhaseOffset(rotated, 9)
	assert.InDelta(t, offset, got, 1e-12)

	back := CorrectPhase(rotated, got)
	for i := range back {
		assert.InDelta(t, 0, math.Hypot(real(back[i]-pilots[i]), imag(back[i]-pilots[i])), 1e-12)
	}
}
