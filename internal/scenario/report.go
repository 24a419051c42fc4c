package scenario

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/wifi-phy-sim/internal/detect"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phy"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
)

// Report summarizes one scenario run.
type Report struct {
	Standard         string           `yaml:"standard"`
	SimulatedSeconds float64          `yaml:"simulated_seconds"`
	Flows            []FlowReport     `yaml:"flows"`
	Receivers        []ReceiverReport `yaml:"receivers"`
}

// FlowReport counts what a flow put on the air.
type FlowReport struct {
	Src    uint32 `yaml:"src"`
	Mode   string `yaml:"mode"`
	Sent   int    `yaml:"sent"`
	Failed int    `yaml:"failed"`
}

// ReceiverReport is the per-radio outcome.
type ReceiverReport struct {
	Device       uint32         `yaml:"device"`
	Offered      int            `yaml:"offered"`
	Undetected   int            `yaml:"undetected"`
	Ignored      int            `yaml:"ignored"`
	Captured     int            `yaml:"captured"`
	Synchronized int            `yaml:"synchronized"`
	Received     int            `yaml:"received"`
	FramesOK     int            `yaml:"frames_ok"`
	FrameErrors  int            `yaml:"frame_errors"`
	Repaired     int            `yaml:"repaired_shards"`
	Bits         int            `yaml:"bits"`
	BitErrors    int            `yaml:"bit_errors"`
	BER          float64        `yaml:"ber"`
	Aborts       map[string]int `yaml:"aborts,omitempty"`
	Sinr         SinrReport     `yaml:"sinr_db"`
}

// SinrReport holds mean per-stage SINR over received frames. Stages with no
// finite sample report zero.
type SinrReport struct {
	Preamble float64 `yaml:"preamble"`
	Header   float64 `yaml:"header"`
	Payload  float64 `yaml:"payload"`
	Overall  float64 `yaml:"overall"`
}

// WriteYAML encodes the report.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// Receiver returns the report of device, or nil.
func (r *Report) Receiver(device uint32) *ReceiverReport {
	for i := range r.Receivers {
		if r.Receivers[i].Device == device {
			return &r.Receivers[i]
		}
	}
	return nil
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64, ok bool) {
	if !ok || math.IsInf(v, 0) || math.IsNaN(v) {
		return
	}
	m.sum += v
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// tally accumulates one receiver's outcomes. It implements phy.Metrics and
// phy.Listener and runs on the event loop.
type tally struct {
	rep                                ReceiverReport
	decode                             func(tag *phytag.Tag) (repaired int, err error)
	preamble, header, payload, overall mean
}

func newTally(device phytag.DeviceID, decode func(*phytag.Tag) (int, error)) *tally {
	return &tally{
		rep:    ReceiverReport{Device: uint32(device), Aborts: make(map[string]int)},
		decode: decode,
	}
}

func (t *tally) Offered(d detect.Decision) {
	t.rep.Offered++
	switch d {
	case detect.Undetected:
		t.rep.Undetected++
	case detect.Ignored:
		t.rep.Ignored++
	case detect.Captured:
		t.rep.Captured++
	}
}

func (t *tally) Synchronized()           {}
func (t *tally) Aborted(phy.AbortReason) {}
func (t *tally) Received(*phytag.Tag)    {}

func (t *tally) OnSynchronized(phytag.DeviceID, *phytag.Tag) { t.rep.Synchronized++ }

func (t *tally) OnAborted(_ phytag.DeviceID, _ *phytag.Tag, reason phy.AbortReason) {
	t.rep.Aborts[reason.String()]++
}

func (t *tally) OnReceived(_ phytag.DeviceID, tag *phytag.Tag) {
	t.rep.Received++
	if p, ok := tag.Tx(); ok {
		t.rep.Bits += len(p.Bits)
	}
	if errs, err := tag.BitErrors(); err == nil {
		t.rep.BitErrors += errs
	}
	t.preamble.add(tag.PreambleSinr())
	t.header.add(tag.HeaderSinr())
	t.payload.add(tag.PayloadSinr())
	t.overall.add(tag.OverallSinr())

	repaired, err := t.decode(tag)
	t.rep.Repaired += repaired
	if err != nil {
		t.rep.FrameErrors++
		return
	}
	t.rep.FramesOK++
}

func (t *tally) report() ReceiverReport {
	r := t.rep
	if r.Bits > 0 {
		r.BER = float64(r.BitErrors) / float64(r.Bits)
	}
	r.Sinr = SinrReport{
		Preamble: t.preamble.value(),
		Header:   t.header.value(),
		Payload:  t.payload.value(),
		Overall:  t.overall.value(),
	}
	if len(r.Aborts) == 0 {
		r.Aborts = nil
	}
	return r
}

func sortReceivers(rs []ReceiverReport) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Device < rs[j].Device })
}
