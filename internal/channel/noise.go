package channel

import (
	"math"

	"github.com/iti/rngstream"

	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

// ThermalNoiseDensity is kT at 290 K in dBm/Hz.
const ThermalNoiseDensity = -174.0

// NoiseFloorDbm returns the receiver noise floor for a bandwidth in Hz and
// a noise figure in dB.
func NoiseFloorDbm(bandwidth, noiseFigureDb float64) float64 {
	return ThermalNoiseDensity + 10*math.Log10(bandwidth) + noiseFigureDb
}

// DbmToMw converts dBm to mW.
func DbmToMw(dbm float64) float64 {
	return math.Pow(10, dbm/10)
}

// NoiseSource produces background noise samples in √mW.
type NoiseSource interface {
	Generate(n int) signal.Samples
}

// AWGN is complex white Gaussian noise of fixed power.
type AWGN struct {
	rng   *rngstream.RngStream
	sigma float64 // per real dimension
}

// NewAWGN creates a noise source with total power powerMw drawing from the
// named random stream.
func NewAWGN(name string, powerMw float64) *AWGN {
	return &AWGN{
		rng:   rngstream.New(name),
		sigma: math.Sqrt(powerMw / 2),
	}
}

// NewThermalAWGN creates a noise source at the noise floor.
func NewThermalAWGN(name string, bandwidth, noiseFigureDb float64) *AWGN {
	return NewAWGN(name, DbmToMw(NoiseFloorDbm(bandwidth, noiseFigureDb)))
}

// PowerMw returns the configured noise power.
func (a *AWGN) PowerMw() float64 { return 2 * a.sigma * a.sigma }

// Generate returns n samples, two Box-Muller normals per sample.
func (a *AWGN) Generate(n int) signal.Samples {
	out := make(signal.Samples, n)
	for i := range out {
		u1 := a.rng.RandU01()
		for u1 == 0 {
			u1 = a.rng.RandU01()
		}
		u2 := a.rng.RandU01()
		r := a.sigma * math.Sqrt(-2*math.Log(u1))
		s, c := math.Sincos(2 * math.Pi * u2)
		out[i] = complex(r*c, r*s)
	}
	return out
}

// Silence is a noise source that produces zeros.
type Silence struct{}

func (Silence) Generate(n int) signal.Samples { return make(signal.Samples, n) }
