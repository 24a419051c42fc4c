package channel

import (
	"fmt"
	"math"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"

	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
)

// Receive builds the samples a receiver sees from an attenuated tag: lead
// noise-only samples, then the transmitted samples scaled by the recorded
// path loss, with noise over the whole buffer.
func Receive(tag *phytag.Tag, lead int, noise NoiseSource) error {
	p, ok := tag.Tx()
	if !ok {
		return fmt.Errorf("receive: %w", phytag.ErrNotAvailable)
	}
	if lead < 0 {
		return fmt.Errorf("receive: negative lead %d", lead)
	}
	loss, _ := tag.PathLoss()
	gain := complex(math.Pow(10, -loss/20), 0)

	rx := p.Samples.Scale(gain).Delay(lead)
	n := noise.Generate(len(rx))
	if err := SetReceivedSamples(tag, rx.Add(n)); err != nil {
		return err
	}
	return SetBackgroundNoise(tag, n)
}

// Receiver is a radio attached to the medium.
type Receiver interface {
	Device() phytag.DeviceID
	StartReceive(evtMgr *evtm.EventManager, tag *phytag.Tag) error
}

type attachment struct {
	rx    Receiver
	noise NoiseSource
}

type linkKey struct{ a, b phytag.DeviceID }

func newLinkKey(a, b phytag.DeviceID) linkKey {
	if a > b {
		a, b = b, a
	}
	return linkKey{a, b}
}

// Medium delivers every transmission to the receivers linked to the sender.
// It is driven from the event loop and is not safe for concurrent use.
type Medium struct {
	loss     LossModel
	lead     int
	logger   *log.Logger
	attached map[phytag.DeviceID]attachment
	links    map[linkKey]float64
}

// NewMedium creates a medium. lead is the number of noise-only samples
// ahead of each received frame.
func NewMedium(loss LossModel, lead int, logger *log.Logger) *Medium {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Medium{
		loss:     loss,
		lead:     lead,
		logger:   logger,
		attached: make(map[phytag.DeviceID]attachment),
		links:    make(map[linkKey]float64),
	}
}

// Attach registers a receiver and its noise source.
func (m *Medium) Attach(r Receiver, noise NoiseSource) {
	if noise == nil {
		noise = Silence{}
	}
	m.attached[r.Device()] = attachment{rx: r, noise: noise}
}

// Link connects two devices at distance meters.
func (m *Medium) Link(a, b phytag.DeviceID, distance float64) error {
	if a == b {
		return fmt.Errorf("link %d to itself", a)
	}
	if distance < 0 || math.IsNaN(distance) {
		return fmt.Errorf("link %d-%d: distance %v", a, b, distance)
	}
	m.links[newLinkKey(a, b)] = distance
	return nil
}

type arrival struct {
	rx  Receiver
	tag *phytag.Tag
}

// Transmit propagates tag to every linked receiver and schedules each
// arrival after the propagation delay. Each receiver gets its own copy of
// the tag. It returns the number of copies scheduled.
func (m *Medium) Transmit(evtMgr *evtm.EventManager, tag *phytag.Tag) (int, error) {
	p, ok := tag.Tx()
	if !ok {
		return 0, fmt.Errorf("transmit: %w", phytag.ErrNotAvailable)
	}

	ids := make([]phytag.DeviceID, 0, len(m.attached))
	for id := range m.attached {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	n := 0
	for _, id := range ids {
		if id == p.Device {
			continue
		}
		distance, linked := m.links[newLinkKey(p.Device, id)]
		if !linked {
			continue
		}
		at := m.attached[id]
		copyTag := tag.Clone()
		if m.loss != nil {
			if err := m.loss.Apply(copyTag, distance); err != nil {
				return n, fmt.Errorf("to %d: %w", id, err)
			}
		}
		if err := Receive(copyTag, m.lead, at.noise); err != nil {
			return n, fmt.Errorf("to %d: %w", id, err)
		}
		loss, _ := copyTag.PathLoss()
		m.logger.Debug("propagate", "from", p.Device, "to", id, "distance", distance, "loss", loss)
		evtMgr.Schedule(m, arrival{rx: at.rx, tag: copyTag}, arrive, vrtime.SecondsToTime(distance/speedOfLight))
		n++
	}
	return n, nil
}

func arrive(evtMgr *evtm.EventManager, context any, data any) any {
	m := context.(*Medium)
	a := data.(arrival)
	if err := a.rx.StartReceive(evtMgr, a.tag); err != nil {
		m.logger.Error("start receive", "device", a.rx.Device(), "err", err)
	}
	return nil
}
