// Package detect implements the per-receiver preamble detector: short and
// long training symbol correlation and the capture decision between
// overlapping frames.
package detect

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
)

// State of the detector state machine.
type State int

const (
	Idle State = iota
	ShortSymbolScanning
	LongSymbolScanning
	Synchronized
	HeaderDecoding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ShortSymbolScanning:
		return "short-scan"
	case LongSymbolScanning:
		return "long-scan"
	case Synchronized:
		return "synchronized"
	case HeaderDecoding:
		return "header-decoding"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrWrongState is returned when an operation is invalid in the current state.
	ErrWrongState = errors.New("operation invalid in detector state")
	// ErrNoLongSymbol is returned when the long training symbol is not found.
	ErrNoLongSymbol = errors.New("long training symbol not found")
)

// Config holds detection thresholds and the capture policy.
type Config struct {
	// ShortThreshold is the normalized correlation a short training
	// window must exceed, in (0, 1).
	ShortThreshold float64 `yaml:"short_threshold"`
	// LongThreshold is the same for the long training symbol.
	LongThreshold float64 `yaml:"long_threshold"`
	// ShortWindow is the short correlation length in samples.
	ShortWindow int `yaml:"short_window"`
	// LongScanOffset and LongScanSpan place the long search window
	// relative to the short symbol start.
	LongScanOffset int `yaml:"long_scan_offset"`
	LongScanSpan   int `yaml:"long_scan_span"`

	CaptureEnabled bool `yaml:"capture_enabled"`
	// CaptureMargin is the linear factor by which a new frame's
	// correlation magnitude must exceed the current one.
	CaptureMargin float64 `yaml:"capture_margin"`
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		ShortThreshold: 0.8,
		LongThreshold:  0.8,
		ShortWindow:    2 * modem.ShortPeriod,
		LongScanOffset: modem.ShortFieldLen,
		LongScanSpan:   modem.FFTSize,
		CaptureEnabled: true,
		CaptureMargin:  2.0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ShortThreshold <= 0 || c.ShortThreshold >= 1 {
		return fmt.Errorf("short threshold %v not in (0, 1)", c.ShortThreshold)
	}
	if c.LongThreshold <= 0 || c.LongThreshold >= 1 {
		return fmt.Errorf("long threshold %v not in (0, 1)", c.LongThreshold)
	}
	if c.ShortWindow < modem.ShortPeriod || c.ShortWindow > modem.ShortFieldLen-modem.ShortPeriod {
		return fmt.Errorf("short window %d out of range", c.ShortWindow)
	}
	if c.LongScanOffset < 0 || c.LongScanSpan <= 0 {
		return fmt.Errorf("long scan window [%d, +%d) invalid", c.LongScanOffset, c.LongScanSpan)
	}
	if c.CaptureMargin < 1 {
		return fmt.Errorf("capture margin %v below 1", c.CaptureMargin)
	}
	return nil
}

// Decision is the outcome of offering a frame to the detector.
type Decision int

const (
	// Undetected: no short training symbol was found.
	Undetected Decision = iota
	// NewSync: the detector was idle and now tracks the frame.
	NewSync
	// Captured: the frame replaced the one being tracked.
	Captured
	// Ignored: the detector kept tracking its current frame.
	Ignored
)

func (d Decision) String() string {
	switch d {
	case Undetected:
		return "undetected"
	case NewSync:
		return "new-sync"
	case Captured:
		return "captured"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Result describes an Offer.
type Result struct {
	Decision Decision
	// Previous is the abandoned frame when Decision is Captured.
	Previous *phytag.Tag
	// ShortStart is the short symbol index into the offered frame's rx
	// samples; -1 when undetected.
	ShortStart int
	// Measure is the capture measure of the offered frame.
	Measure float64
}

// Detector tracks synchronization for one receiver. It references the tag
// of the frame being tracked and writes the sync fields onto it. It is
// driven by a single event loop and is not safe for concurrent use.
type Detector struct {
	cfg    Config
	logger *log.Logger

	short *correlator
	long  *correlator

	state   State
	current *phytag.Tag
	measure float64
}

// New creates an idle detector.
func New(cfg Config, logger *log.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Detector{
		cfg:    cfg,
		logger: logger,
		short:  newCorrelator(modem.ShortTrainingField()[:cfg.ShortWindow]),
		long:   newCorrelator(modem.LongTrainingSymbol()),
	}, nil
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// Current returns the tracked frame, or nil when idle.
func (d *Detector) Current() *phytag.Tag { return d.current }

// Measure returns the capture measure of the tracked frame.
func (d *Detector) Measure() float64 { return d.measure }

// Offer runs the short symbol scan over a newly arrived frame and decides
// whether the detector starts tracking it. On NewSync and Captured the short
// symbol is recorded on tag; on capture tag is also marked captured.
// Undetected and ignored frames are left untouched.
func (d *Detector) Offer(tag *phytag.Tag) (Result, error) {
	rx, ok := tag.RxSamples()
	if !ok {
		return Result{}, fmt.Errorf("offer: rx samples: %w", phytag.ErrNotAvailable)
	}

	prev := d.state
	if prev == Idle {
		d.state = ShortSymbolScanning
	}
	start, trace, found := d.scanShort(rx)
	if !found {
		if prev == Idle {
			d.state = Idle
		}
		d.logger.Debug("short symbol not found", "samples", len(rx))
		return Result{Decision: Undetected, ShortStart: -1}, nil
	}
	measure := d.short.raw(rx, start)
	res := Result{ShortStart: start, Measure: measure}

	switch prev {
	case Idle:
		if err := tag.SetShortSymbol(start, trace); err != nil {
			d.state = Idle
			return Result{}, err
		}
		d.track(tag, measure)
		res.Decision = NewSync
		return res, nil

	case LongSymbolScanning, Synchronized:
		if !d.cfg.CaptureEnabled || !(measure > d.measure*d.cfg.CaptureMargin) {
			d.logger.Debug("frame ignored", "measure", measure, "current", d.measure)
			res.Decision = Ignored
			return res, nil
		}
		if err := tag.SetShortSymbol(start, trace); err != nil {
			return Result{}, err
		}
		if err := tag.MarkCaptured(); err != nil {
			return Result{}, err
		}
		res.Previous = d.current
		d.logger.Debug("capture", "measure", measure, "previous", d.measure)
		d.track(tag, measure)
		res.Decision = Captured
		return res, nil

	default:
		res.Decision = Ignored
		return res, nil
	}
}

func (d *Detector) track(tag *phytag.Tag, measure float64) {
	d.current = tag
	d.measure = measure
	d.state = LongSymbolScanning
}

// peakTolerance is how much a later window must beat the running peak by.
// Over the repeated short symbols the metric is a plateau, which then
// resolves to its first index.
const peakTolerance = 0.01

// scanShort finds the first confirmed short symbol peak. The first window
// over threshold opens a one-period peak search; the peak is accepted only
// if the window one period later is also over threshold.
func (d *Detector) scanShort(rx []complex128) (int, []float64, bool) {
	last := len(rx) - d.short.len()
	if last < modem.ShortPeriod {
		return 0, nil, false
	}
	th := d.cfg.ShortThreshold
	trace := make([]float64, 0, last+1)
	metric := func(n int) float64 {
		for len(trace) <= n {
			trace = append(trace, d.short.normalized(rx, len(trace)))
		}
		return trace[n]
	}

	for n := 0; n+modem.ShortPeriod <= last; n++ {
		if metric(n) <= th {
			continue
		}
		peak, best := n, metric(n)
		for m := n + 1; m < n+modem.ShortPeriod; m++ {
			if v := metric(m); v > best+peakTolerance {
				peak, best = m, v
			}
		}
		if peak+modem.ShortPeriod <= last && metric(peak+modem.ShortPeriod) > th {
			metric(min(peak+modem.ShortFieldLen, last))
			return peak, trace, true
		}
		n = peak
	}
	return 0, nil, false
}

// LocateLong searches for the long training symbol of the tracked frame and
// records it. On failure the detector returns to Idle.
func (d *Detector) LocateLong() (int, error) {
	if d.state != LongSymbolScanning {
		return 0, fmt.Errorf("locate long in %v: %w", d.state, ErrWrongState)
	}
	tag := d.current
	rx, _ := tag.RxSamples()
	ss, _ := tag.ShortSymbol()

	from := ss.Start + d.cfg.LongScanOffset
	trace := d.long.trace(rx, from, from+d.cfg.LongScanSpan)
	peak, best := -1, d.cfg.LongThreshold
	for i, v := range trace {
		if v > best {
			peak, best = i, v
		}
	}
	if peak < 0 {
		d.Reset()
		return 0, ErrNoLongSymbol
	}

	start := from + peak
	if err := tag.SetLongSymbol(start, trace); err != nil {
		d.Reset()
		return 0, err
	}
	d.state = Synchronized
	return start, nil
}

// BeginHeader marks the start of SIGNAL decoding. From here on the tracked
// frame can no longer be captured.
func (d *Detector) BeginHeader() error {
	if d.state != Synchronized {
		return fmt.Errorf("begin header in %v: %w", d.state, ErrWrongState)
	}
	d.state = HeaderDecoding
	return nil
}

// Reset abandons the tracked frame and returns to Idle.
func (d *Detector) Reset() {
	d.state = Idle
	d.current = nil
	d.measure = 0
}
