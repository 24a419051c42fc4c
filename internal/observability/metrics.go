// Package observability exposes receiver metrics to Prometheus and sets up
// OpenTelemetry tracing.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeongseonghan/wifi-phy-sim/internal/detect"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phy"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
)

// PhyCollector bundles the receive pipeline metrics. It implements
// phy.Metrics.
type PhyCollector struct {
	gatherer prometheus.Gatherer

	OfferedFrames  *prometheus.CounterVec
	SyncedFrames   prometheus.Counter
	AbortedFrames  *prometheus.CounterVec
	ReceivedFrames prometheus.Counter
	BitErrors      prometheus.Counter
	Sinr           *prometheus.HistogramVec
}

var _ phy.Metrics = (*PhyCollector)(nil)

// NewPhyCollector registers the metrics against reg, defaulting to the
// global registry when nil.
func NewPhyCollector(reg prometheus.Registerer) (*PhyCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &PhyCollector{
		gatherer: gatherer,
		OfferedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phy_frames_offered_total",
			Help: "Frames offered to a detector, labeled by detection decision.",
		}, []string{"decision"}),
		SyncedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phy_frames_synchronized_total",
			Help: "Frames whose long training symbol was located.",
		}),
		AbortedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phy_frames_aborted_total",
			Help: "Synchronizations that ended without a decoded frame, labeled by reason.",
		}, []string{"reason"}),
		ReceivedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phy_frames_received_total",
			Help: "Frames decoded through the payload.",
		}),
		BitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phy_bit_errors_total",
			Help: "Payload bit errors over all received frames.",
		}),
		Sinr: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phy_sinr_db",
			Help:    "Per-stage SINR of received frames in dB.",
			Buckets: prometheus.LinearBuckets(-5, 5, 20),
		}, []string{"stage"}),
	}

	for name, col := range map[string]prometheus.Collector{
		"phy_frames_offered_total":      c.OfferedFrames,
		"phy_frames_synchronized_total": c.SyncedFrames,
		"phy_frames_aborted_total":      c.AbortedFrames,
		"phy_frames_received_total":     c.ReceivedFrames,
		"phy_bit_errors_total":          c.BitErrors,
		"phy_sinr_db":                   c.Sinr,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	return c, nil
}

func (c *PhyCollector) Offered(d detect.Decision) {
	c.OfferedFrames.WithLabelValues(d.String()).Inc()
}

func (c *PhyCollector) Synchronized() {
	c.SyncedFrames.Inc()
}

func (c *PhyCollector) Aborted(r phy.AbortReason) {
	c.AbortedFrames.WithLabelValues(r.String()).Inc()
}

func (c *PhyCollector) Received(tag *phytag.Tag) {
	c.ReceivedFrames.Inc()
	if errs, err := tag.BitErrors(); err == nil {
		c.BitErrors.Add(float64(errs))
	}
	for stage, get := range map[string]func() (float64, bool){
		"preamble": tag.PreambleSinr,
		"header":   tag.HeaderSinr,
		"payload":  tag.PayloadSinr,
		"overall":  tag.OverallSinr,
	} {
		if v, ok := get(); ok {
			c.Sinr.WithLabelValues(stage).Observe(v)
		}
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PhyCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
