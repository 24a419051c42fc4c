package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/wifi-phy-sim/internal/channel"
	"github.com/jeongseonghan/wifi-phy-sim/internal/estimate"
	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	sd, err := cfg.SampleDuration()
	require.NoError(t, err)
	assert.Equal(t, modem.SampleDuration11a, sd)
	assert.InDelta(t, 20e6, cfg.Bandwidth(), 1)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
standard: 802.11p
mode: qpsk34
equalizer: mmse
detect:
  capture_enabled: false
sinr:
  header: false
channel:
  model: fixed
  fixed_loss_db: 60
nodes:
  - {id: 7}
  - {id: 9, x: 3, y: 4}
flows:
  - {src: 9, packets: 3, payload_bytes: 20, interval: 500us, mode: 16qam12}
`))
	require.NoError(t, err)

	sd, err := cfg.SampleDuration()
	require.NoError(t, err)
	assert.Equal(t, modem.SampleDuration11p, sd)

	pc, err := cfg.PhyConfig()
	require.NoError(t, err)
	assert.Equal(t, estimate.MMSE, pc.Equalizer)
	assert.False(t, pc.Detect.CaptureEnabled)
	assert.InDelta(t, 0.8, pc.Detect.ShortThreshold, 1e-12, "untouched detect keys keep defaults")
	assert.False(t, pc.Sinr.CalculateHeaderSinr)
	assert.True(t, pc.Sinr.CalculatePayloadSinr)

	require.Len(t, cfg.Nodes, 2)
	assert.InDelta(t, 5, cfg.Distance(cfg.Nodes[0], cfg.Nodes[1]), 1e-12)

	require.Len(t, cfg.Flows, 1)
	f := cfg.Flows[0]
	assert.Equal(t, 500*time.Microsecond, f.Interval)
	m, err := cfg.FlowMode(f)
	require.NoError(t, err)
	assert.Equal(t, modem.Mode16QAM1_2, m)
	assert.InDelta(t, cfg.TxPowerDbm, cfg.FlowPower(f), 0)

	loss, err := cfg.LossModel()
	require.NoError(t, err)
	assert.Equal(t, channel.FixedLoss{DB: 60}, loss)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "bogus: 1"},
		{"standard", "standard: 802.11n"},
		{"mode", "mode: 256qam"},
		{"equalizer", "equalizer: dfe"},
		{"threshold", "detect: {short_threshold: 1.5}"},
		{"channel model", "channel: {model: rayleigh}"},
		{"duplicate node", "nodes: [{id: 1}, {id: 1}]"},
		{"unknown flow source", "flows: [{src: 42, packets: 1}]"},
		{"flow mode", "flows: [{src: 1, mode: nope}]"},
		{"outer code", "outer_code: {enabled: true, data_shards: 0, parity_shards: 2}"},
		{"lead", "channel: {lead_samples: -1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLossModelExtraLoss(t *testing.T) {
	cfg := Default()
	cfg.Channel.Model = "free-space"
	cfg.Channel.ExtraLossDb = 10
	m, err := cfg.LossModel()
	require.NoError(t, err)
	assert.Equal(t, channel.Chain{channel.FreeSpace{}, channel.FixedLoss{DB: 10}}, m)
}

func TestOuterCode(t *testing.T) {
	cfg := Default()
	oc, err := cfg.OuterCode()
	require.NoError(t, err)
	assert.Nil(t, oc)

	cfg.Outer.Enabled = true
	oc, err = cfg.OuterCode()
	require.NoError(t, err)
	require.NotNil(t, oc)
	assert.Equal(t, cfg.Outer.DataShards, oc.DataShards())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tx_power_dbm: 20\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 20, cfg.TxPowerDbm, 0)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
