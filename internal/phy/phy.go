// Package phy wires the detector, channel estimator, demodulator and SINR
// accounting into the receive pipeline of one simulated radio. Stage
// boundaries are events on the simulation's event manager.
package phy

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeongseonghan/wifi-phy-sim/internal/detect"
	"github.com/jeongseonghan/wifi-phy-sim/internal/estimate"
	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/sinr"
)

const tracerName = "github.com/jeongseonghan/wifi-phy-sim/internal/phy"

// ErrPayloadTruncated is returned when the signalled length runs past the
// received samples.
var ErrPayloadTruncated = errors.New("signalled payload exceeds rx samples")

// Config bundles the receiver settings.
type Config struct {
	Detect    detect.Config
	Sinr      sinr.Config
	Equalizer estimate.Kind
}

// DefaultConfig returns the receiver defaults.
func DefaultConfig() Config {
	return Config{
		Detect:    detect.DefaultConfig(),
		Sinr:      sinr.DefaultConfig(),
		Equalizer: estimate.ZeroForcing,
	}
}

// Metrics observes receive outcomes.
type Metrics interface {
	Offered(decision detect.Decision)
	Synchronized()
	Aborted(reason AbortReason)
	Received(tag *phytag.Tag)
}

type nopMetrics struct{}

func (nopMetrics) Offered(detect.Decision) {}
func (nopMetrics) Synchronized()           {}
func (nopMetrics) Aborted(AbortReason)     {}
func (nopMetrics) Received(*phytag.Tag)    {}

// Option customizes a Phy.
type Option func(*Phy)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Phy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithListener sets the listener.
func WithListener(l Listener) Option {
	return func(p *Phy) { p.listener = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Phy) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Phy is the receive side of one radio. All methods run on the event loop.
type Phy struct {
	id        phytag.DeviceID
	cfg       Config
	logger    *log.Logger
	listener  Listener
	metrics   Metrics
	tracer    trace.Tracer
	detector  *detect.Detector
	estimator *estimate.Estimator
	sinr      *sinr.Calculator

	// gen identifies the current synchronization. Events scheduled for an
	// older one are dropped.
	gen     uint64
	arrival float64 // seconds, time of rx sample 0 of the current frame
	est     *estimate.Estimate
	header  modem.Header
	ctx     context.Context
	span    trace.Span
}

// New creates a receiver for device id.
func New(id phytag.DeviceID, cfg Config, opts ...Option) (*Phy, error) {
	p := &Phy{
		id:        id,
		cfg:       cfg,
		logger:    logging.Discard(),
		listener:  Listeners(nil),
		metrics:   nopMetrics{},
		tracer:    otel.Tracer(tracerName),
		estimator: estimate.NewEstimator(),
		sinr:      sinr.NewCalculator(cfg.Sinr),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("device", id)
	d, err := detect.New(cfg.Detect, p.logger)
	if err != nil {
		return nil, err
	}
	p.detector = d
	return p, nil
}

// Device returns the radio's identity.
func (p *Phy) Device() phytag.DeviceID { return p.id }

// State returns the detector state.
func (p *Phy) State() detect.State { return p.detector.State() }

// Current returns the frame being received, or nil.
func (p *Phy) Current() *phytag.Tag { return p.detector.Current() }

type stageEvent struct {
	gen uint64
}

// StartReceive is called when a frame's rx samples begin at the receiver.
// The tag must carry rx samples and background noise. The receiving device
// is recorded on the tag once a short training symbol is found in it.
func (p *Phy) StartReceive(evtMgr *evtm.EventManager, tag *phytag.Tag) error {
	res, err := p.detector.Offer(tag)
	if err != nil {
		return fmt.Errorf("start receive: %w", err)
	}
	p.metrics.Offered(res.Decision)
	if res.Decision != detect.Undetected {
		if err := tag.SetRxDevice(p.id); err != nil {
			return fmt.Errorf("start receive: %w", err)
		}
	}

	switch res.Decision {
	case detect.Undetected, detect.Ignored:
		p.logger.Debug("frame not tracked", "decision", res.Decision, "measure", res.Measure)
		return nil
	case detect.Captured:
		p.logger.Info("capture", "measure", res.Measure)
		p.finish(res.Previous, AbortCaptured, nil)
	}

	p.gen++
	p.arrival = evtMgr.CurrentSeconds()
	p.est = nil
	p.ctx, p.span = p.tracer.Start(context.Background(), "phy.receive", trace.WithAttributes(
		attribute.Int64("device", int64(p.id)),
		attribute.Int("short_start", res.ShortStart),
		attribute.Bool("captured", res.Decision == detect.Captured),
	))
	p.schedule(evtMgr, res.ShortStart+modem.PreambleLen, tag, endPreamble)
	return nil
}

// schedule runs handler when rx sample index of the current frame is reached.
func (p *Phy) schedule(evtMgr *evtm.EventManager, index int, tag *phytag.Tag, handler evtm.EventHandlerFunction) {
	tx, _ := tag.Tx()
	at := p.arrival + float64(index)*tx.SampleDuration.Seconds()
	delay := max(at-evtMgr.CurrentSeconds(), 0)
	evtMgr.Schedule(p, stageEvent{gen: p.gen}, handler, vrtime.SecondsToTime(delay))
}

// live returns the current tag if ev belongs to the current synchronization.
func (p *Phy) live(ev stageEvent) (*phytag.Tag, bool) {
	tag := p.detector.Current()
	return tag, tag != nil && ev.gen == p.gen
}

func endPreamble(evtMgr *evtm.EventManager, context any, data any) any {
	p := context.(*Phy)
	tag, ok := p.live(data.(stageEvent))
	if !ok {
		return nil
	}
	_, span := p.tracer.Start(p.ctx, "phy.preamble")
	defer span.End()

	long, err := p.detector.LocateLong()
	if err != nil {
		span.RecordError(err)
		p.finish(tag, AbortSyncLost, err)
		return nil
	}
	est, err := p.estimator.EstimateTag(tag)
	if err != nil {
		span.RecordError(err)
		p.detector.Reset()
		p.finish(tag, AbortSyncLost, err)
		return nil
	}
	p.est = est
	if db, ok, err := p.sinr.Preamble(tag); err != nil {
		p.logger.Warn("preamble sinr", "err", err)
	} else if ok {
		span.SetAttributes(attribute.Float64("sinr_db", db))
	}

	span.SetAttributes(attribute.Int("long_start", long))
	p.logger.Debug("synchronized", "long", long, "gain", est.Gain)
	p.metrics.Synchronized()
	p.listener.OnSynchronized(p.id, tag)

	p.schedule(evtMgr, long+2*modem.FFTSize+modem.SymbolLen, tag, endHeader)
	return nil
}

func endHeader(evtMgr *evtm.EventManager, context any, data any) any {
	p := context.(*Phy)
	tag, ok := p.live(data.(stageEvent))
	if !ok {
		return nil
	}
	_, span := p.tracer.Start(p.ctx, "phy.header")
	defer span.End()

	if err := p.detector.BeginHeader(); err != nil {
		p.logger.Error("begin header", "err", err)
		return nil
	}
	rx, _ := tag.RxSamples()
	long, _ := tag.LongSymbol()
	start := long.Start + 2*modem.FFTSize
	eq := p.est.Equalizer(p.cfg.Equalizer)

	h, err := modem.DecodeHeader(rx[start:start+modem.SymbolLen], eq)
	if err == nil {
		end := start + modem.SymbolLen + modem.PayloadSymbols(h.Mode, h.Length)*modem.SymbolLen
		if end > len(rx) {
			err = fmt.Errorf("%w: needs %d, have %d", ErrPayloadTruncated, end, len(rx))
		}
	}
	if err == nil {
		err = tag.SetHeader(phytag.Header{Mode: h.Mode, Length: h.Length})
	}
	if err != nil {
		span.RecordError(err)
		p.detector.Reset()
		p.finish(tag, AbortHeaderError, err)
		return nil
	}
	p.header = h
	if db, ok, err := p.sinr.Header(tag); err != nil {
		p.logger.Warn("header sinr", "err", err)
	} else if ok {
		span.SetAttributes(attribute.Float64("sinr_db", db))
	}
	span.SetAttributes(attribute.String("mode", h.Mode.String()), attribute.Int("length", h.Length))

	end := start + modem.SymbolLen + modem.PayloadSymbols(h.Mode, h.Length)*modem.SymbolLen
	p.schedule(evtMgr, end, tag, endRx)
	return nil
}

func endRx(evtMgr *evtm.EventManager, context any, data any) any {
	p := context.(*Phy)
	tag, ok := p.live(data.(stageEvent))
	if !ok {
		return nil
	}
	_, span := p.tracer.Start(p.ctx, "phy.payload")
	defer span.End()

	rx, _ := tag.RxSamples()
	long, _ := tag.LongSymbol()
	start := long.Start + 2*modem.FFTSize + modem.SymbolLen
	end := start + modem.PayloadSymbols(p.header.Mode, p.header.Length)*modem.SymbolLen

	bits, err := p.decodePayload(rx[start:end])
	if err == nil {
		err = tag.SetRxBits(bits)
	}
	p.detector.Reset()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("payload decode", "err", err)
		p.finish(tag, AbortDecodeError, err)
		return nil
	}

	for _, stage := range []func(*phytag.Tag) (float64, bool, error){p.sinr.Payload, p.sinr.Overall} {
		if _, _, err := stage(tag); err != nil {
			p.logger.Warn("sinr", "err", err)
		}
	}
	errs, _ := tag.BitErrors()
	span.SetAttributes(attribute.Int("bit_errors", errs))
	p.logger.Debug("received", "bits", len(bits), "errors", errs)

	p.metrics.Received(tag)
	p.listener.OnReceived(p.id, tag)
	p.endSpan(nil)
	return nil
}

func (p *Phy) decodePayload(samples []complex128) ([]byte, error) {
	d, err := modem.NewDemodulator(p.header.Mode, modem.DefaultGuardInterval)
	if err != nil {
		return nil, err
	}
	d.SetEqualizer(p.est.Equalizer(p.cfg.Equalizer))
	bits, err := d.Demodulate(samples)
	if err != nil {
		return nil, err
	}
	return bits[:p.header.Length*8], nil
}

// Abort cancels the current synchronization on behalf of a higher layer.
// It reports false when nothing was being received.
func (p *Phy) Abort() bool {
	tag := p.detector.Current()
	if tag == nil {
		return false
	}
	p.detector.Reset()
	p.finish(tag, AbortExternal, nil)
	return true
}

// finish reports an abandoned frame and invalidates its pending events.
func (p *Phy) finish(tag *phytag.Tag, reason AbortReason, err error) {
	p.gen++
	if err != nil {
		p.logger.Debug("receive aborted", "reason", reason, "err", err)
	} else {
		p.logger.Debug("receive aborted", "reason", reason)
	}
	p.metrics.Aborted(reason)
	p.listener.OnAborted(p.id, tag, reason)
	if p.span != nil {
		p.span.SetAttributes(attribute.String("abort", reason.String()))
	}
	p.endSpan(err)
}

func (p *Phy) endSpan(err error) {
	if p.span == nil {
		return
	}
	if err != nil {
		p.span.SetStatus(codes.Error, err.Error())
	}
	p.span.End()
	p.span = nil
}
