// Package sinr computes the per-stage signal to interference plus noise
// ratios recorded on a frame's tag.
package sinr

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

// ErrSegment is returned when a segment does not lie inside the rx samples.
var ErrSegment = errors.New("segment outside rx samples")

// Config gates each metric. A disabled metric is never written to the tag.
type Config struct {
	CalculatePreambleSinr bool `yaml:"preamble"`
	CalculateHeaderSinr   bool `yaml:"header"`
	CalculatePayloadSinr  bool `yaml:"payload"`
	CalculateOverallSinr  bool `yaml:"overall"`
}

// DefaultConfig enables every metric.
func DefaultConfig() Config {
	return Config{
		CalculatePreambleSinr: true,
		CalculateHeaderSinr:   true,
		CalculatePayloadSinr:  true,
		CalculateOverallSinr:  true,
	}
}

// Segment is a half-open sample range [Start, End) of the rx samples.
type Segment struct {
	Start, End int
}

// Len returns the segment length.
func (s Segment) Len() int { return s.End - s.Start }

// Segments locates each frame part in the rx samples.
type Segments struct {
	Preamble Segment
	Header   Segment
	Payload  Segment
	Overall  Segment
}

// SegmentsFor derives the segments from the short and long symbol indices
// and the number of payload symbols.
func SegmentsFor(short, long, payloadSymbols int) Segments {
	headerStart := long + 2*modem.FFTSize
	payloadStart := headerStart + modem.SymbolLen
	payloadEnd := payloadStart + payloadSymbols*modem.SymbolLen
	return Segments{
		Preamble: Segment{short, short + modem.PreambleLen},
		Header:   Segment{headerStart, payloadStart},
		Payload:  Segment{payloadStart, payloadEnd},
		Overall:  Segment{short, payloadEnd},
	}
}

// Ratio returns the SINR in dB over seg. The signal is rx minus noise and
// the noise is the background noise sequence. Zero noise power yields +Inf.
func Ratio(rx, noise signal.Samples, seg Segment) (float64, error) {
	if seg.Start < 0 || seg.Len() <= 0 || seg.End > len(rx) || seg.End > len(noise) {
		return 0, fmt.Errorf("[%d, %d) of %d: %w", seg.Start, seg.End, len(rx), ErrSegment)
	}
	sig := make([]float64, seg.Len())
	nse := make([]float64, seg.Len())
	for i := range sig {
		n := noise[seg.Start+i]
		s := rx[seg.Start+i] - n
		sig[i] = real(s)*real(s) + imag(s)*imag(s)
		nse[i] = real(n)*real(n) + imag(n)*imag(n)
	}
	ps := floats.Sum(sig)
	pn := floats.Sum(nse)
	if pn == 0 {
		return math.Inf(1), nil
	}
	return 10 * math.Log10(ps/pn), nil
}

// Calculator writes the enabled metrics onto tags.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config returns the switches.
func (c *Calculator) Config() Config { return c.cfg }

type stage int

const (
	stagePreamble stage = iota
	stageHeader
	stagePayload
	stageOverall
)

func (c *Calculator) enabled(s stage) bool {
	switch s {
	case stagePreamble:
		return c.cfg.CalculatePreambleSinr
	case stageHeader:
		return c.cfg.CalculateHeaderSinr
	case stagePayload:
		return c.cfg.CalculatePayloadSinr
	default:
		return c.cfg.CalculateOverallSinr
	}
}

// segments reads what the tag knows so far. Without a decoded header the
// payload is taken as empty.
func segments(tag *phytag.Tag) (Segments, error) {
	short, ok := tag.ShortSymbol()
	if !ok {
		return Segments{}, fmt.Errorf("short symbol: %w", phytag.ErrNotAvailable)
	}
	long, ok := tag.LongSymbol()
	if !ok {
		return Segments{}, fmt.Errorf("long symbol: %w", phytag.ErrNotAvailable)
	}
	var symbols int
	if h, ok := tag.Header(); ok {
		symbols = modem.PayloadSymbols(h.Mode, h.Length)
	}
	return SegmentsFor(short.Start, long.Start, symbols), nil
}

func (c *Calculator) compute(tag *phytag.Tag, s stage) (float64, bool, error) {
	if !c.enabled(s) {
		return 0, false, nil
	}
	rx, ok := tag.RxSamples()
	if !ok {
		return 0, false, fmt.Errorf("rx samples: %w", phytag.ErrNotAvailable)
	}
	noise, ok := tag.BackgroundNoise()
	if !ok {
		return 0, false, fmt.Errorf("background noise: %w", phytag.ErrNotAvailable)
	}
	segs, err := segments(tag)
	if err != nil {
		return 0, false, err
	}
	seg := [...]Segment{segs.Preamble, segs.Header, segs.Payload, segs.Overall}[s]
	db, err := Ratio(rx, noise, seg)
	if err != nil {
		return 0, false, err
	}
	return db, true, nil
}

// Preamble computes and records the preamble SINR when enabled. It returns
// the value and whether it was computed.
func (c *Calculator) Preamble(tag *phytag.Tag) (float64, bool, error) {
	db, ok, err := c.compute(tag, stagePreamble)
	if err != nil || !ok {
		return 0, false, wrap("preamble", err)
	}
	if err := tag.SetPreambleSinr(db); err != nil {
		return 0, false, err
	}
	return db, true, nil
}

// Header computes and records the SIGNAL symbol SINR when enabled.
func (c *Calculator) Header(tag *phytag.Tag) (float64, bool, error) {
	db, ok, err := c.compute(tag, stageHeader)
	if err != nil || !ok {
		return 0, false, wrap("header", err)
	}
	if err := tag.SetHeaderSinr(db); err != nil {
		return 0, false, err
	}
	return db, true, nil
}

// Payload computes and records the data symbol SINR when enabled.
func (c *Calculator) Payload(tag *phytag.Tag) (float64, bool, error) {
	db, ok, err := c.compute(tag, stagePayload)
	if err != nil || !ok {
		return 0, false, wrap("payload", err)
	}
	if err := tag.SetPayloadSinr(db); err != nil {
		return 0, false, err
	}
	return db, true, nil
}

// Overall computes and records the whole-frame SINR when enabled.
func (c *Calculator) Overall(tag *phytag.Tag) (float64, bool, error) {
	db, ok, err := c.compute(tag, stageOverall)
	if err != nil || !ok {
		return 0, false, wrap("overall", err)
	}
	if err := tag.SetOverallSinr(db); err != nil {
		return 0, false, err
	}
	return db, true, nil
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s sinr: %w", what, err)
}
