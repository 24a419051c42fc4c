// Package scenario runs a configured set of radios and packet flows through
// the simulated medium and reports the receive statistics.
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"

	"github.com/jeongseonghan/wifi-phy-sim/internal/channel"
	"github.com/jeongseonghan/wifi-phy-sim/internal/config"
	"github.com/jeongseonghan/wifi-phy-sim/internal/detect"
	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phy"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/psdu"
)

// drain is simulated time allowed after the last transmission starts.
const drain = 0.1

// Option customizes a run.
type Option func(*runner)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics adds a metrics sink shared by every receiver.
func WithMetrics(m phy.Metrics) Option {
	return func(r *runner) { r.metrics = append(r.metrics, m) }
}

// WithListener adds a listener shared by every receiver.
func WithListener(l phy.Listener) Option {
	return func(r *runner) { r.listeners = append(r.listeners, l) }
}

type runner struct {
	cfg       config.Config
	ctx       context.Context
	logger    *log.Logger
	metrics   fanout
	listeners phy.Listeners

	sd      time.Duration
	codec   *psdu.Codec
	medium  *channel.Medium
	phys    []*phy.Phy
	tallies []*tally
	flows   []flowState
}

type flowState struct {
	cfg  config.Flow
	mode modem.Mode
	rng  *rngstream.RngStream
	rep  FlowReport
}

type txJob struct {
	flow int
	seq  uint16
}

// Run builds the radios, schedules every flow and runs the event loop to
// completion. Cancelling ctx stops further transmissions.
func Run(ctx context.Context, cfg config.Config, opts ...Option) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	r := &runner{cfg: cfg, ctx: ctx, logger: logging.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.build(); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}

	evtMgr := evtm.New()
	horizon := r.schedule(evtMgr)
	r.logger.Info("scenario start", "nodes", len(cfg.Nodes), "flows", len(cfg.Flows), "horizon", horizon)
	evtMgr.Run(horizon)

	rep := &Report{Standard: cfg.Standard, SimulatedSeconds: evtMgr.CurrentSeconds()}
	for _, f := range r.flows {
		rep.Flows = append(rep.Flows, f.rep)
	}
	for _, t := range r.tallies {
		rep.Receivers = append(rep.Receivers, t.report())
	}
	sortReceivers(rep.Receivers)
	r.logger.Info("scenario done", "simulated", rep.SimulatedSeconds)
	return rep, ctx.Err()
}

func (r *runner) build() error {
	cfg := r.cfg
	sd, err := cfg.SampleDuration()
	if err != nil {
		return err
	}
	r.sd = sd

	outer, err := cfg.OuterCode()
	if err != nil {
		return err
	}
	r.codec = psdu.NewCodec(outer)

	loss, err := cfg.LossModel()
	if err != nil {
		return err
	}
	r.medium = channel.NewMedium(loss, cfg.Channel.LeadSamples, r.logger)

	phyCfg, err := cfg.PhyConfig()
	if err != nil {
		return err
	}
	for _, n := range cfg.Nodes {
		id := phytag.DeviceID(n.ID)
		t := newTally(id, r.decode)
		p, err := phy.New(id, phyCfg,
			phy.WithLogger(r.logger),
			phy.WithMetrics(append(fanout{t}, r.metrics...)),
			phy.WithListener(append(phy.Listeners{t}, r.listeners...)),
		)
		if err != nil {
			return fmt.Errorf("node %d: %w", n.ID, err)
		}
		noise := channel.NewThermalAWGN(fmt.Sprintf("noise-%d", n.ID), cfg.Bandwidth(), cfg.NoiseFigureDb)
		r.medium.Attach(p, noise)
		r.phys = append(r.phys, p)
		r.tallies = append(r.tallies, t)
	}
	for i, a := range cfg.Nodes {
		for _, b := range cfg.Nodes[i+1:] {
			if err := r.medium.Link(phytag.DeviceID(a.ID), phytag.DeviceID(b.ID), cfg.Distance(a, b)); err != nil {
				return err
			}
		}
	}

	for i, f := range cfg.Flows {
		mode, err := cfg.FlowMode(f)
		if err != nil {
			return err
		}
		r.flows = append(r.flows, flowState{
			cfg:  f,
			mode: mode,
			rng:  rngstream.New(fmt.Sprintf("flow-%d", i)),
			rep:  FlowReport{Src: f.Src, Mode: mode.String()},
		})
	}
	return nil
}

// schedule queues every transmission and returns the run horizon in seconds.
func (r *runner) schedule(evtMgr *evtm.EventManager) float64 {
	last := 0.0
	for i, f := range r.flows {
		for k := 0; k < f.cfg.Packets; k++ {
			at := (f.cfg.Start + time.Duration(k)*f.cfg.Interval).Seconds()
			last = max(last, at)
			evtMgr.Schedule(r, txJob{flow: i, seq: uint16(k)}, transmit, vrtime.SecondsToTime(at))
		}
	}
	return last + drain
}

func transmit(evtMgr *evtm.EventManager, context any, data any) any {
	r := context.(*runner)
	job := data.(txJob)
	f := &r.flows[job.flow]
	if r.ctx.Err() != nil {
		return nil
	}
	if err := r.send(evtMgr, f, job.seq); err != nil {
		f.rep.Failed++
		r.logger.Error("transmit", "src", f.cfg.Src, "seq", job.seq, "err", err)
		return nil
	}
	f.rep.Sent++
	return nil
}

func (r *runner) send(evtMgr *evtm.EventManager, f *flowState, seq uint16) error {
	payload := make([]byte, f.cfg.PayloadBytes)
	for i := range payload {
		payload[i] = byte(f.rng.RandU01() * 256)
	}
	bits, err := r.codec.ToBits(psdu.NewDataFrame(byte(f.cfg.Src), seq, payload))
	if err != nil {
		return err
	}
	tag, err := phy.BeginTransmission(phy.TxRequest{
		Bits:           bits,
		Mode:           f.mode,
		Preamble:       modem.PreambleLong,
		Frequency:      r.cfg.FrequencyHz,
		SampleDuration: r.sd,
		Device:         phytag.DeviceID(f.cfg.Src),
		PowerDbm:       r.cfg.FlowPower(f.cfg),
	})
	if err != nil {
		return err
	}
	n, err := r.medium.Transmit(evtMgr, tag)
	if err != nil {
		return err
	}
	r.logger.Debug("transmit", "src", f.cfg.Src, "seq", seq, "mode", f.mode, "receivers", n)
	return nil
}

// decode parses a received tag's bits as a PSDU.
func (r *runner) decode(tag *phytag.Tag) (int, error) {
	bits, ok := tag.RxBits()
	if !ok {
		return 0, phytag.ErrNotAvailable
	}
	_, repaired, err := r.codec.FromBits(bits)
	return repaired, err
}

// fanout forwards metrics to several sinks.
type fanout []phy.Metrics

func (f fanout) Offered(d detect.Decision) {
	for _, m := range f {
		m.Offered(d)
	}
}

func (f fanout) Synchronized() {
	for _, m := range f {
		m.Synchronized()
	}
}

func (f fanout) Aborted(reason phy.AbortReason) {
	for _, m := range f {
		m.Aborted(reason)
	}
}

func (f fanout) Received(tag *phytag.Tag) {
	for _, m := range f {
		m.Received(tag)
	}
}
