package phy

import (
	"fmt"
	"math"
	"time"

	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

// TxRequest is what the MAC hands to the PHY for one frame.
type TxRequest struct {
	Bits           signal.Bits // whole octets
	Mode           modem.Mode
	Preamble       modem.Preamble
	Frequency      float64 // Hz
	SampleDuration time.Duration
	Device         phytag.DeviceID
	PowerDbm       float64
}

// BeginTransmission synthesizes the frame and returns its tag with the
// transmitter group populated. Samples are in √mW, so their mean power over
// the frame is the transmit power in mW.
func BeginTransmission(req TxRequest) (*phytag.Tag, error) {
	if req.SampleDuration <= 0 {
		return nil, fmt.Errorf("begin transmission: sample duration %v", req.SampleDuration)
	}
	frame, err := modem.BuildFrame(req.Mode, req.Bits)
	if err != nil {
		return nil, fmt.Errorf("begin transmission: %w", err)
	}
	amp := math.Sqrt(math.Pow(10, req.PowerDbm/10))
	samples := signal.Samples(frame).Scale(complex(amp, 0))

	return phytag.New(phytag.TxParams{
		Preamble:       req.Preamble,
		Mode:           req.Mode,
		Duration:       time.Duration(len(samples)) * req.SampleDuration,
		Bits:           req.Bits.Clone(),
		Samples:        samples,
		Frequency:      req.Frequency,
		SampleDuration: req.SampleDuration,
		Device:         req.Device,
		PowerDbm:       req.PowerDbm,
	})
}
