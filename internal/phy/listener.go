package phy

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
)

// AbortReason says why a synchronization ended without a decoded frame.
type AbortReason int

const (
	AbortCaptured AbortReason = iota
	AbortSyncLost
	AbortHeaderError
	AbortExternal
	AbortDecodeError
)

func (r AbortReason) String() string {
	switch r {
	case AbortCaptured:
		return "captured"
	case AbortSyncLost:
		return "sync-lost"
	case AbortHeaderError:
		return "header-error"
	case AbortExternal:
		return "external"
	case AbortDecodeError:
		return "decode-error"
	default:
		return fmt.Sprintf("AbortReason(%d)", int(r))
	}
}

// Listener receives the outcome of each receive stage. Callbacks run on the
// event loop and must not block.
type Listener interface {
	OnSynchronized(device phytag.DeviceID, tag *phytag.Tag)
	OnReceived(device phytag.DeviceID, tag *phytag.Tag)
	OnAborted(device phytag.DeviceID, tag *phytag.Tag, reason AbortReason)
}

// Listeners fans callbacks out in order.
type Listeners []Listener

func (ls Listeners) OnSynchronized(device phytag.DeviceID, tag *phytag.Tag) {
	for _, l := range ls {
		l.OnSynchronized(device, tag)
	}
}

func (ls Listeners) OnReceived(device phytag.DeviceID, tag *phytag.Tag) {
	for _, l := range ls {
		l.OnReceived(device, tag)
	}
}

func (ls Listeners) OnAborted(device phytag.DeviceID, tag *phytag.Tag, reason AbortReason) {
	for _, l := range ls {
		l.OnAborted(device, tag, reason)
	}
}

// EventKind tags an Event.
type EventKind int

const (
	EventSynchronized EventKind = iota
	EventReceived
	EventAborted
)

func (k EventKind) String() string {
	switch k {
	case EventSynchronized:
		return "synchronized"
	case EventReceived:
		return "received"
	case EventAborted:
		return "aborted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one listener callback as a value.
type Event struct {
	Kind   EventKind
	Device phytag.DeviceID
	Tag    *phytag.Tag
	Reason AbortReason // EventAborted only
}

// ChanListener forwards callbacks to a buffered channel. When the channel
// is full the event is dropped.
type ChanListener struct {
	ch      chan Event
	logger  *log.Logger
	dropped int
}

// NewChanListener creates a listener with a buffer of size events.
func NewChanListener(size int, logger *log.Logger) *ChanListener {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ChanListener{ch: make(chan Event, size), logger: logger}
}

// Events returns the receive side of the channel.
func (c *ChanListener) Events() <-chan Event { return c.ch }

// Dropped returns how many events did not fit.
func (c *ChanListener) Dropped() int { return c.dropped }

// Close closes the channel. No callbacks may follow.
func (c *ChanListener) Close() { close(c.ch) }

func (c *ChanListener) send(ev Event) {
	select {
	case c.ch <- ev:
	default:
		c.dropped++
		c.logger.Warn("listener channel full, event dropped", "kind", ev.Kind, "device", ev.Device)
	}
}

func (c *ChanListener) OnSynchronized(device phytag.DeviceID, tag *phytag.Tag) {
	c.send(Event{Kind: EventSynchronized, Device: device, Tag: tag})
}

func (c *ChanListener) OnReceived(device phytag.DeviceID, tag *phytag.Tag) {
	c.send(Event{Kind: EventReceived, Device: device, Tag: tag})
}

func (c *ChanListener) OnAborted(device phytag.DeviceID, tag *phytag.Tag, reason AbortReason) {
	c.send(Event{Kind: EventAborted, Device: device, Tag: tag, Reason: reason})
}
