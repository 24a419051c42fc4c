// Package channel propagates transmitted frames to receivers: it applies
// path loss, adds background noise and delivers per-receiver copies of the
// tag.
package channel

import (
	"fmt"
	"math"

	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

// ApplyPathLoss adds lossDb to whatever loss earlier models recorded.
func ApplyPathLoss(tag *phytag.Tag, lossDb float64) error {
	if math.IsNaN(lossDb) {
		return fmt.Errorf("path loss is NaN")
	}
	return tag.AddPathLoss(lossDb)
}

// SetReceivedSamples records the samples a receiver sees.
func SetReceivedSamples(tag *phytag.Tag, rx signal.Samples) error {
	return tag.SetRxSamples(rx)
}

// SetBackgroundNoise records the noise component of the received samples.
func SetBackgroundNoise(tag *phytag.Tag, noise signal.Samples) error {
	return tag.SetBackgroundNoise(noise)
}

// LossModel applies its loss for a link of the given length in meters.
type LossModel interface {
	Apply(tag *phytag.Tag, distance float64) error
}

// FixedLoss is a constant loss in dB.
type FixedLoss struct {
	DB float64 `yaml:"db"`
}

func (f FixedLoss) Apply(tag *phytag.Tag, _ float64) error {
	return ApplyPathLoss(tag, f.DB)
}

// LogDistance is L0 + 10·n·log10(d/d0).
type LogDistance struct {
	Exponent          float64 `yaml:"exponent"`
	ReferenceDistance float64 `yaml:"reference_distance"`
	ReferenceLoss     float64 `yaml:"reference_loss"`
}

// Loss returns the loss in dB at distance. Distances inside the reference
// distance get the reference loss.
func (l LogDistance) Loss(distance float64) float64 {
	if distance <= l.ReferenceDistance {
		return l.ReferenceLoss
	}
	return l.ReferenceLoss + 10*l.Exponent*math.Log10(distance/l.ReferenceDistance)
}

func (l LogDistance) Apply(tag *phytag.Tag, distance float64) error {
	if l.ReferenceDistance <= 0 {
		return fmt.Errorf("log distance: reference distance %v", l.ReferenceDistance)
	}
	return ApplyPathLoss(tag, l.Loss(distance))
}

// FreeSpace is the Friis loss at the tag's center frequency.
type FreeSpace struct{}

const speedOfLight = 299792458.0

// FreeSpaceLoss returns 20·log10(4πdf/c), and 0 for zero distance.
func FreeSpaceLoss(distance, frequency float64) float64 {
	if distance <= 0 {
		return 0
	}
	return 20 * math.Log10(4*math.Pi*distance*frequency/speedOfLight)
}

func (FreeSpace) Apply(tag *phytag.Tag, distance float64) error {
	p, ok := tag.Tx()
	if !ok {
		return fmt.Errorf("free space: %w", phytag.ErrNotAvailable)
	}
	if p.Frequency <= 0 {
		return fmt.Errorf("free space: frequency %v Hz", p.Frequency)
	}
	return ApplyPathLoss(tag, FreeSpaceLoss(distance, p.Frequency))
}

// Chain applies each model in order; the tag accumulates their sum.
type Chain []LossModel

func (c Chain) Apply(tag *phytag.Tag, distance float64) error {
	for i, m := range c {
		if err := m.Apply(tag, distance); err != nil {
			return fmt.Errorf("loss model %d: %w", i, err)
		}
	}
	return nil
}
