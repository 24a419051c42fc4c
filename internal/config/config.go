// Package config loads the simulator configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/wifi-phy-sim/internal/channel"
	"github.com/jeongseonghan/wifi-phy-sim/internal/detect"
	"github.com/jeongseonghan/wifi-phy-sim/internal/estimate"
	"github.com/jeongseonghan/wifi-phy-sim/internal/fec"
	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/observability"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phy"
	"github.com/jeongseonghan/wifi-phy-sim/internal/sinr"
)

// Supported standards.
const (
	Standard80211a = "802.11a"
	Standard80211p = "802.11p"
)

// Config is the full simulator configuration.
type Config struct {
	Standard      string  `yaml:"standard"`
	FrequencyHz   float64 `yaml:"frequency_hz"`
	TxPowerDbm    float64 `yaml:"tx_power_dbm"`
	NoiseFigureDb float64 `yaml:"noise_figure_db"`
	Mode          string  `yaml:"mode"`
	Equalizer     string  `yaml:"equalizer"`

	Detect  detect.Config `yaml:"detect"`
	Sinr    sinr.Config   `yaml:"sinr"`
	Channel Channel       `yaml:"channel"`
	Nodes   []Node        `yaml:"nodes"`
	Flows   []Flow        `yaml:"flows"`
	Outer   OuterCode     `yaml:"outer_code"`

	Log     logging.Config              `yaml:"log"`
	Tracing observability.TracingConfig `yaml:"tracing"`
	Server  Server                      `yaml:"server"`
	Report  Report                      `yaml:"report"`
}

// Channel selects the path loss model.
type Channel struct {
	Model       string  `yaml:"model"` // fixed, log-distance, free-space
	FixedLossDb float64 `yaml:"fixed_loss_db"`
	// ExtraLossDb is added on top of the model (walls, cables).
	ExtraLossDb float64             `yaml:"extra_loss_db"`
	LogDistance channel.LogDistance `yaml:"log_distance"`
	LeadSamples int                 `yaml:"lead_samples"`
}

// Node is a radio at a position in meters.
type Node struct {
	ID uint32  `yaml:"id"`
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
}

// Flow is a periodic packet source.
type Flow struct {
	Src          uint32        `yaml:"src"`
	Packets      int           `yaml:"packets"`
	PayloadBytes int           `yaml:"payload_bytes"`
	Interval     time.Duration `yaml:"interval"`
	Start        time.Duration `yaml:"start"`
	// Mode overrides the global mode when set.
	Mode string `yaml:"mode"`
	// PowerDbm overrides the global transmit power when non-zero.
	PowerDbm float64 `yaml:"power_dbm"`
}

// OuterCode configures the optional Reed-Solomon protection of PSDUs.
type OuterCode struct {
	Enabled      bool `yaml:"enabled"`
	DataShards   int  `yaml:"data_shards"`
	ParityShards int  `yaml:"parity_shards"`
}

// Server configures the evaluation feed.
type Server struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Report configures the scenario report file.
type Report struct {
	// Pattern is a strftime pattern for the report file name; empty
	// disables the report.
	Pattern string `yaml:"pattern"`
}

// Default returns a two-node 802.11a link 10 m apart.
func Default() Config {
	return Config{
		Standard:    Standard80211a,
		FrequencyHz: 5.9e9,
		TxPowerDbm:  16,
		Mode:        "BPSK-1/2",
		Equalizer:   "zf",
		Detect:      detect.DefaultConfig(),
		Sinr:        sinr.DefaultConfig(),
		Channel: Channel{
			Model:       "log-distance",
			LogDistance: channel.LogDistance{Exponent: 3, ReferenceDistance: 1, ReferenceLoss: 47.86},
			LeadSamples: 40,
		},
		Nodes:   []Node{{ID: 1}, {ID: 2, X: 10}},
		Flows:   []Flow{{Src: 1, Packets: 10, PayloadBytes: 100, Interval: time.Millisecond}},
		Outer:   OuterCode{DataShards: fec.DefaultDataShards, ParityShards: fec.DefaultParityShards},
		Log:     logging.Config{Level: "info"},
		Tracing: observability.DefaultTracingConfig(),
		Server:  Server{Addr: ":8080"},
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := c.SampleDuration(); err != nil {
		return err
	}
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("frequency %v Hz", c.FrequencyHz)
	}
	if _, err := modem.ParseMode(c.Mode); err != nil {
		return err
	}
	if _, err := estimate.ParseKind(c.Equalizer); err != nil {
		return err
	}
	if err := c.Detect.Validate(); err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if _, err := c.LossModel(); err != nil {
		return err
	}
	if c.Channel.LeadSamples < 0 {
		return fmt.Errorf("lead samples %d", c.Channel.LeadSamples)
	}

	ids := make(map[uint32]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("duplicate node %d", n.ID)
		}
		ids[n.ID] = true
	}
	for i, f := range c.Flows {
		if !ids[f.Src] {
			return fmt.Errorf("flow %d: unknown node %d", i, f.Src)
		}
		if f.Packets < 0 || f.PayloadBytes < 0 || f.Interval < 0 || f.Start < 0 {
			return fmt.Errorf("flow %d: negative field", i)
		}
		if f.Mode != "" {
			if _, err := modem.ParseMode(f.Mode); err != nil {
				return fmt.Errorf("flow %d: %w", i, err)
			}
		}
	}
	if c.Outer.Enabled {
		if _, err := fec.NewOuterCode(c.Outer.DataShards, c.Outer.ParityShards); err != nil {
			return fmt.Errorf("outer code: %w", err)
		}
	}
	return nil
}

// SampleDuration returns the sample period of the configured standard.
func (c Config) SampleDuration() (time.Duration, error) {
	switch strings.ToLower(c.Standard) {
	case Standard80211a, "11a", "a":
		return modem.SampleDuration11a, nil
	case Standard80211p, "11p", "p":
		return modem.SampleDuration11p, nil
	default:
		return 0, fmt.Errorf("unknown standard %q", c.Standard)
	}
}

// Bandwidth returns the channel bandwidth in Hz.
func (c Config) Bandwidth() float64 {
	sd, err := c.SampleDuration()
	if err != nil {
		return 0
	}
	return 1 / sd.Seconds()
}

// FlowMode returns the mode used by f.
func (c Config) FlowMode(f Flow) (modem.Mode, error) {
	if f.Mode != "" {
		return modem.ParseMode(f.Mode)
	}
	return modem.ParseMode(c.Mode)
}

// FlowPower returns the transmit power used by f.
func (c Config) FlowPower(f Flow) float64 {
	if f.PowerDbm != 0 {
		return f.PowerDbm
	}
	return c.TxPowerDbm
}

// PhyConfig returns the receiver configuration.
func (c Config) PhyConfig() (phy.Config, error) {
	kind, err := estimate.ParseKind(c.Equalizer)
	if err != nil {
		return phy.Config{}, err
	}
	return phy.Config{Detect: c.Detect, Sinr: c.Sinr, Equalizer: kind}, nil
}

// LossModel builds the configured path loss chain.
func (c Config) LossModel() (channel.LossModel, error) {
	var m channel.LossModel
	switch strings.ToLower(c.Channel.Model) {
	case "fixed":
		m = channel.FixedLoss{DB: c.Channel.FixedLossDb}
	case "log-distance", "logdistance":
		if c.Channel.LogDistance.ReferenceDistance <= 0 {
			return nil, fmt.Errorf("log distance: reference distance %v", c.Channel.LogDistance.ReferenceDistance)
		}
		m = c.Channel.LogDistance
	case "free-space", "friis":
		m = channel.FreeSpace{}
	default:
		return nil, fmt.Errorf("unknown channel model %q", c.Channel.Model)
	}
	if c.Channel.ExtraLossDb != 0 {
		return channel.Chain{m, channel.FixedLoss{DB: c.Channel.ExtraLossDb}}, nil
	}
	return m, nil
}

// OuterCode returns the configured outer code, or nil when disabled.
func (c Config) OuterCode() (*fec.OuterCode, error) {
	if !c.Outer.Enabled {
		return nil, nil
	}
	return fec.NewOuterCode(c.Outer.DataShards, c.Outer.ParityShards)
}

// Distance returns the distance in meters between two nodes.
func (c Config) Distance(a, b Node) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
