// Package phytag implements the per-frame transmission annotation: the record
// that travels with a simulated frame from the transmitter through the
// channel to each receiver and accumulates every physical-layer artifact.
//
// Fields are grouped by the stage that writes them. Each group is written at
// most once and only after the groups it depends on exist; reading an absent
// group reports false instead of a zero value.
package phytag

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

var (
	// ErrAlreadySet is returned when a write-once group is written again.
	ErrAlreadySet = errors.New("field group already set")
	// ErrOutOfOrder is returned when a group is written before its prerequisites.
	ErrOutOfOrder = errors.New("field group written out of order")
	// ErrNotAvailable is returned when a computation needs a group that is absent.
	ErrNotAvailable = errors.New("field group not available")
)

// DeviceID identifies a simulated radio. It is a lookup key into the
// caller's device registry and never owns the device.
type DeviceID uint32

// Phase is the furthest pipeline stage recorded on a tag.
type Phase uint8

const (
	// PhaseNew is a tag with no groups set.
	PhaseNew Phase = iota
	// PhaseTransmitted has the transmitter group.
	PhaseTransmitted
	// PhasePropagated has path loss applied.
	PhasePropagated
	// PhaseArrived has rx samples and background noise.
	PhaseArrived
	// PhaseShortFound has the short training symbol located.
	PhaseShortFound
	// PhaseSynchronized has the long training symbol located.
	PhaseSynchronized
	// PhaseHeaderDecoded has the SIGNAL field decoded.
	PhaseHeaderDecoded
	// PhaseDecoded has the payload bits decoded.
	PhaseDecoded
)

var phaseNames = [...]string{
	PhaseNew:           "new",
	PhaseTransmitted:   "transmitted",
	PhasePropagated:    "propagated",
	PhaseArrived:       "arrived",
	PhaseShortFound:    "short-found",
	PhaseSynchronized:  "synchronized",
	PhaseHeaderDecoded: "header-decoded",
	PhaseDecoded:       "decoded",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// TxParams is the transmitter's field group.
type TxParams struct {
	Preamble       modem.Preamble
	Mode           modem.Mode
	Duration       time.Duration
	Bits           signal.Bits
	Samples        signal.Samples
	Frequency      float64 // Hz
	SampleDuration time.Duration
	Device         DeviceID
	PowerDbm       float64
}

// SymbolSync records one located training symbol: the sample index into the
// rx samples and the full correlation trace that produced it.
type SymbolSync struct {
	Start int
	Trace []float64
}

// Header is the receiver's decoded SIGNAL field.
type Header struct {
	Mode   modem.Mode
	Length int // octets
}

// Tag is the transmission annotation of one frame. A Tag is used by one
// pipeline stage at a time and is not safe for concurrent use.
type Tag struct {
	tx        optional[TxParams]
	pathLoss  optional[float64]
	rxSamples optional[signal.Samples]
	noise     optional[signal.Samples]
	short     optional[SymbolSync]
	long      optional[SymbolSync]
	estimate  optional[complex128]
	header    optional[Header]
	rxBits    optional[signal.Bits]

	preambleSinr optional[float64]
	headerSinr   optional[float64]
	payloadSinr  optional[float64]
	overallSinr  optional[float64]

	rxDevice optional[DeviceID]
	captured bool
}

// New returns a tag with the transmitter group populated. The tag keeps its
// own copy of the samples and bits.
func New(p TxParams) (*Tag, error) {
	if !p.Mode.Valid() {
		return nil, fmt.Errorf("tx: invalid mode %v", p.Mode)
	}
	if len(p.Samples) == 0 {
		return nil, fmt.Errorf("tx: no samples")
	}
	if p.SampleDuration <= 0 {
		return nil, fmt.Errorf("tx: sample duration %v", p.SampleDuration)
	}
	p.Bits = p.Bits.Clone()
	p.Samples = p.Samples.Clone()
	t := &Tag{}
	t.tx = some(p)
	return t, nil
}

// IsTxed reports whether the transmitter group is populated.
func (t *Tag) IsTxed() bool { return t.tx.ok }

// IsCaptured reports whether a receiver abandoned another frame for this one.
func (t *Tag) IsCaptured() bool { return t.captured }

// Tx returns a copy of the transmitter group. Modifying the returned bits or
// samples does not affect the tag.
func (t *Tag) Tx() (TxParams, bool) {
	if !t.tx.ok {
		return TxParams{}, false
	}
	p := t.tx.val
	p.Bits = p.Bits.Clone()
	p.Samples = p.Samples.Clone()
	return p, true
}

// AddPathLoss combines lossDb with any loss already recorded. Chained
// channel models each call it once; the stored value is the sum in dB.
func (t *Tag) AddPathLoss(lossDb float64) error {
	if !t.tx.ok {
		return fmt.Errorf("path loss: %w", ErrOutOfOrder)
	}
	if t.rxSamples.ok {
		return fmt.Errorf("path loss after rx samples: %w", ErrOutOfOrder)
	}
	t.pathLoss = some(t.pathLoss.val + lossDb)
	return nil
}

// PathLoss returns the accumulated path loss in dB.
func (t *Tag) PathLoss() (float64, bool) { return t.pathLoss.get() }

// SetRxSamples records the samples seen by the receiver. They must be at
// least as long as the transmitted samples.
func (t *Tag) SetRxSamples(s signal.Samples) error {
	if !t.tx.ok {
		return fmt.Errorf("rx samples: %w", ErrOutOfOrder)
	}
	if len(s) < len(t.tx.val.Samples) {
		return fmt.Errorf("rx samples: %d shorter than tx %d", len(s), len(t.tx.val.Samples))
	}
	if err := t.rxSamples.set(s); err != nil {
		return fmt.Errorf("rx samples: %w", err)
	}
	return nil
}

// RxSamples returns the received samples. Callers must not modify them.
func (t *Tag) RxSamples() (signal.Samples, bool) { return t.rxSamples.get() }

// SetBackgroundNoise records the noise component of the rx samples.
func (t *Tag) SetBackgroundNoise(n signal.Samples) error {
	if !t.rxSamples.ok {
		return fmt.Errorf("background noise: %w", ErrOutOfOrder)
	}
	if len(n) != len(t.rxSamples.val) {
		return fmt.Errorf("background noise: length %d, rx samples %d", len(n), len(t.rxSamples.val))
	}
	if err := t.noise.set(n); err != nil {
		return fmt.Errorf("background noise: %w", err)
	}
	return nil
}

// BackgroundNoise returns the noise samples. Callers must not modify them.
func (t *Tag) BackgroundNoise() (signal.Samples, bool) { return t.noise.get() }

// SetShortSymbol records the short training symbol location.
func (t *Tag) SetShortSymbol(start int, trace []float64) error {
	if !t.rxSamples.ok {
		return fmt.Errorf("short symbol: %w", ErrOutOfOrder)
	}
	if start < 0 || start >= len(t.rxSamples.val) {
		return fmt.Errorf("short symbol: index %d outside rx samples", start)
	}
	if err := t.short.set(SymbolSync{Start: start, Trace: trace}); err != nil {
		return fmt.Errorf("short symbol: %w", err)
	}
	return nil
}

// ShortSymbol returns the short training symbol location and trace.
func (t *Tag) ShortSymbol() (SymbolSync, bool) { return t.short.get() }

// SetLongSymbol records the long training symbol location. It must not
// precede the short symbol.
func (t *Tag) SetLongSymbol(start int, trace []float64) error {
	if !t.short.ok {
		return fmt.Errorf("long symbol: %w", ErrOutOfOrder)
	}
	if start < t.short.val.Start {
		return fmt.Errorf("long symbol: index %d before short symbol %d", start, t.short.val.Start)
	}
	if start >= len(t.rxSamples.val) {
		return fmt.Errorf("long symbol: index %d outside rx samples", start)
	}
	if err := t.long.set(SymbolSync{Start: start, Trace: trace}); err != nil {
		return fmt.Errorf("long symbol: %w", err)
	}
	return nil
}

// LongSymbol returns the long training symbol location and trace.
func (t *Tag) LongSymbol() (SymbolSync, bool) { return t.long.get() }

// SetInitialEstimate records the complex channel gain estimated from the
// long training symbols.
func (t *Tag) SetInitialEstimate(h complex128) error {
	if !t.long.ok {
		return fmt.Errorf("initial estimate: %w", ErrOutOfOrder)
	}
	if err := t.estimate.set(h); err != nil {
		return fmt.Errorf("initial estimate: %w", err)
	}
	return nil
}

// InitialEstimate returns the initial channel estimate.
func (t *Tag) InitialEstimate() (complex128, bool) { return t.estimate.get() }

// SetHeader records the decoded SIGNAL field.
func (t *Tag) SetHeader(h Header) error {
	if !t.long.ok {
		return fmt.Errorf("header: %w", ErrOutOfOrder)
	}
	if err := t.header.set(h); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	return nil
}

// Header returns the decoded mode and payload length.
func (t *Tag) Header() (Header, bool) { return t.header.get() }

// SetRxBits records the decoded payload bits.
func (t *Tag) SetRxBits(b signal.Bits) error {
	if !t.header.ok {
		return fmt.Errorf("rx bits: %w", ErrOutOfOrder)
	}
	if err := t.rxBits.set(b); err != nil {
		return fmt.Errorf("rx bits: %w", err)
	}
	return nil
}

// RxBits returns the decoded payload bits.
func (t *Tag) RxBits() (signal.Bits, bool) { return t.rxBits.get() }

// SetPreambleSinr records the SINR over the preamble in dB.
func (t *Tag) SetPreambleSinr(db float64) error {
	if !t.long.ok || !t.noise.ok {
		return fmt.Errorf("preamble sinr: %w", ErrOutOfOrder)
	}
	return wrapSet("preamble sinr", t.preambleSinr.set(db))
}

// SetHeaderSinr records the SINR over the SIGNAL symbol in dB.
func (t *Tag) SetHeaderSinr(db float64) error {
	if !t.header.ok || !t.noise.ok {
		return fmt.Errorf("header sinr: %w", ErrOutOfOrder)
	}
	return wrapSet("header sinr", t.headerSinr.set(db))
}

// SetPayloadSinr records the SINR over the data symbols in dB.
func (t *Tag) SetPayloadSinr(db float64) error {
	if !t.rxBits.ok || !t.noise.ok {
		return fmt.Errorf("payload sinr: %w", ErrOutOfOrder)
	}
	return wrapSet("payload sinr", t.payloadSinr.set(db))
}

// SetOverallSinr records the SINR over the whole frame in dB.
func (t *Tag) SetOverallSinr(db float64) error {
	if !t.rxBits.ok || !t.noise.ok {
		return fmt.Errorf("overall sinr: %w", ErrOutOfOrder)
	}
	return wrapSet("overall sinr", t.overallSinr.set(db))
}

func wrapSet(what string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// PreambleSinr returns the SINR over the preamble in dB.
func (t *Tag) PreambleSinr() (float64, bool) { return t.preambleSinr.get() }

// HeaderSinr returns the SINR over the SIGNAL symbol in dB.
func (t *Tag) HeaderSinr() (float64, bool) { return t.headerSinr.get() }

// PayloadSinr returns the SINR over the data symbols in dB.
func (t *Tag) PayloadSinr() (float64, bool) { return t.payloadSinr.get() }

// OverallSinr returns the SINR over the whole frame in dB.
func (t *Tag) OverallSinr() (float64, bool) { return t.overallSinr.get() }

// SetRxDevice records the receiving radio.
func (t *Tag) SetRxDevice(id DeviceID) error {
	if !t.tx.ok {
		return fmt.Errorf("rx device: %w", ErrOutOfOrder)
	}
	return wrapSet("rx device", t.rxDevice.set(id))
}

// RxDevice returns the receiving radio.
func (t *Tag) RxDevice() (DeviceID, bool) { return t.rxDevice.get() }

// MarkCaptured sets the captured flag. The flag cannot be cleared.
func (t *Tag) MarkCaptured() error {
	if !t.short.ok {
		return fmt.Errorf("captured: %w", ErrOutOfOrder)
	}
	if t.captured {
		return fmt.Errorf("captured: %w", ErrAlreadySet)
	}
	t.captured = true
	return nil
}

// Phase returns the furthest stage recorded on the tag.
func (t *Tag) Phase() Phase {
	switch {
	case t.rxBits.ok:
		return PhaseDecoded
	case t.header.ok:
		return PhaseHeaderDecoded
	case t.long.ok:
		return PhaseSynchronized
	case t.short.ok:
		return PhaseShortFound
	case t.noise.ok:
		return PhaseArrived
	case t.pathLoss.ok || t.rxSamples.ok:
		return PhasePropagated
	case t.tx.ok:
		return PhaseTransmitted
	default:
		return PhaseNew
	}
}

// BitErrors counts payload bit errors between the transmitted and decoded
// bits.
func (t *Tag) BitErrors() (int, error) {
	if !t.tx.ok || !t.rxBits.ok {
		return 0, ErrNotAvailable
	}
	return t.tx.val.Bits.Errors(t.rxBits.val), nil
}

// Clone returns a deep copy sharing no mutable state with t.
func (t *Tag) Clone() *Tag {
	c := *t
	if t.tx.ok {
		c.tx.val.Bits = t.tx.val.Bits.Clone()
		c.tx.val.Samples = t.tx.val.Samples.Clone()
	}
	c.rxSamples.val = t.rxSamples.val.Clone()
	c.noise.val = t.noise.val.Clone()
	c.short.val.Trace = cloneFloats(t.short.val.Trace)
	c.long.val.Trace = cloneFloats(t.long.val.Trace)
	c.rxBits.val = t.rxBits.val.Clone()
	return &c
}

func cloneFloats(f []float64) []float64 {
	if f == nil {
		return nil
	}
	out := make([]float64, len(f))
	copy(out, f)
	return out
}
