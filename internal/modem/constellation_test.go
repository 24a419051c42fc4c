package modem

import (
	"math"
	"math/cmplx"
	"testing"
)

func testMapDemapAll(t *testing.T, mod Modulation) {
	t.Helper()
	c := NewConstellation(mod)
	bps := mod.BitsPerSymbol()

	for i := 0; i < 1<<bps; i++ {
		bits := indexToBits(i, bps)
		symbol := c.Map(bits)
		recovered := c.Demap(symbol)

		for j := range bits {
			if bits[j] != recovered[j] {
				t.Errorf("%v point %d: bit %d mismatch: %d != %d", mod, i, j, bits[j], recovered[j])
			}
		}
	}
}

func TestBPSK_MapDemap(t *testing.T)  { testMapDemapAll(t, ModBPSK) }
func TestQPSK_MapDemap(t *testing.T)  { testMapDemapAll(t, ModQPSK) }
func Test16QAM_MapDemap(t *testing.T) { testMapDemapAll(t, Mod16QAM) }
func Test64QAM_MapDemap(t *testing.T) { testMapDemapAll(t, Mod64QAM) }

func TestConstellation_UnitAveragePower(t *testing.T) {
	for _, mod := range []Modulation{ModBPSK, ModQPSK, Mod16QAM, Mod64QAM} {
		var sum float64
		points := NewConstellation(mod).Points()
		for _, p := range points {
			sum += real(p)*real(p) + imag(p)*imag(p)
		}
		if avg := sum / float64(len(points)); math.Abs(avg-1) > 1e-12 {
			t.Errorf("%v average power = %v, want 1", mod, avg)
		}
	}
}

func TestConstellation_GrayLevels(t *testing.T) {
	// 16-QAM per axis: 00 -> -3, 01 -> -1, 11 -> +1, 10 -> +3
	c := NewConstellation(Mod16QAM)
	k := c.Scale()
	tests := []struct {
		bits []byte
		want complex128
	}{
		{[]byte{0, 0, 0, 0}, complex(-3*k, -3*k)},
		{[]byte{0, 1, 1, 1}, complex(-1*k, 1*k)},
		{[]byte{1, 1, 1, 0}, complex(1*k, 3*k)},
		{[]byte{1, 0, 0, 1}, complex(3*k, -1*k)},
	}
	for _, tt := range tests {
		if got := c.Map(tt.bits); cmplx.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Map(%v) = %v, want %v", tt.bits, got, tt.want)
		}
	}

	bpsk := NewConstellation(ModBPSK)
	if bpsk.Map([]byte{0}) != -1 || bpsk.Map([]byte{1}) != 1 {
		t.Errorf("BPSK mapping: 0 -> %v, 1 -> %v", bpsk.Map([]byte{0}), bpsk.Map([]byte{1}))
	}
}

func TestConstellation_DemapClampsOutliers(t *testing.T) {
	c := NewConstellation(Mod64QAM)
	far := complex(100, -100)
	want := c.Map([]byte{1, 0, 0, 0, 0, 0}) // +7, -7
	got := c.Map(c.Demap(far))
	if got != want {
		t.Errorf("Demap(%v) selected %v, want corner %v", far, got, want)
	}
}

func TestConstellation_MapBits_DemapSymbols(t *testing.T) {
	c := NewConstellation(Mod16QAM)

	bits := []byte{1, 0, 1, 1, 0, 0, 1, 0, 1, 1, 0, 0}
	symbols := c.MapBits(bits)
	recovered := c.DemapSymbols(symbols)

	if len(recovered) != len(bits) {
		t.Fatalf("length mismatch: %d != %d", len(recovered), len(bits))
	}

	for i := range bits {
		if bits[i] != recovered[i] {
			t.Errorf("bit %d: %d != %d", i, bits[i], recovered[i])
		}
	}
}

func TestBitsToIndex_IndexToBits(t *testing.T) {
	tests := []struct {
		idx     int
		numBits int
	}{
		{0, 2}, {1, 2}, {2, 2}, {3, 2}, {5, 4}, {15, 4}, {42, 6},
	}

	for _, tt := range tests {
		bits := indexToBits(tt.idx, tt.numBits)
		idx := bitsToIndex(bits)

		if idx != tt.idx {
			t.Errorf("roundtrip failed for idx=%d: got %d", tt.idx, idx)
		}
	}
}
