package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jeongseonghan/wifi-phy-sim/internal/logging"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phy"
	"github.com/jeongseonghan/wifi-phy-sim/internal/phytag"
	"github.com/jeongseonghan/wifi-phy-sim/internal/scenario"
)

// Run states reported by /api/status.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// DefaultHistory is the number of frame summaries kept for /api/frames.
const DefaultHistory = 256

// RunFunc runs one scenario with listener attached to every receiver.
type RunFunc func(ctx context.Context, listener phy.Listener) (*scenario.Report, error)

// FrameSummary is a receive outcome as sent to clients. It is built on the
// event loop, so it holds no reference to the tag.
type FrameSummary struct {
	Kind      string   `json:"kind"`
	Device    uint32   `json:"device"`
	Src       uint32   `json:"src"`
	Reason    string   `json:"reason,omitempty"`
	Captured  bool     `json:"captured,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Length    int      `json:"length,omitempty"`
	BitErrors *int     `json:"bitErrors,omitempty"`
	Preamble  *float64 `json:"preambleSinr,omitempty"`
	Header    *float64 `json:"headerSinr,omitempty"`
	Payload   *float64 `json:"payloadSinr,omitempty"`
	Overall   *float64 `json:"overallSinr,omitempty"`
}

func finite(v float64, ok bool) *float64 {
	if !ok || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// Summarize captures what clients need from a tag.
func Summarize(kind phy.EventKind, device phytag.DeviceID, tag *phytag.Tag, reason phy.AbortReason) FrameSummary {
	f := FrameSummary{Kind: kind.String(), Device: uint32(device), Captured: tag.IsCaptured()}
	if kind == phy.EventAborted {
		f.Reason = reason.String()
	}
	if p, ok := tag.Tx(); ok {
		f.Src = uint32(p.Device)
	}
	if h, ok := tag.Header(); ok {
		f.Mode = h.Mode.String()
		f.Length = h.Length
	}
	if errs, err := tag.BitErrors(); err == nil {
		f.BitErrors = &errs
	}
	f.Preamble = finite(tag.PreambleSinr())
	f.Header = finite(tag.HeaderSinr())
	f.Payload = finite(tag.PayloadSinr())
	f.Overall = finite(tag.OverallSinr())
	return f
}

// Handlers holds the HTTP API handlers and the frame feed.
type Handlers struct {
	wsHub   *WSHub
	logger  *log.Logger
	run     RunFunc
	history int

	feed chan FrameSummary

	mu     sync.Mutex
	status string
	errMsg string
	report *scenario.Report
	frames []FrameSummary
	cancel context.CancelFunc
}

// NewHandlers creates the API handlers. run may be nil, which disables
// /api/run.
func NewHandlers(run RunFunc, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handlers{
		wsHub:   NewWSHub(logger),
		logger:  logger,
		run:     run,
		history: DefaultHistory,
		feed:    make(chan FrameSummary, DefaultHistory),
		status:  StatusIdle,
	}
}

// Hub returns the WebSocket hub.
func (h *Handlers) Hub() *WSHub { return h.wsHub }

// Pump moves frame summaries from the event loop to the history and the
// WebSocket clients until ctx is done.
func (h *Handlers) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-h.feed:
			h.record(f)
		}
	}
}

func (h *Handlers) record(f FrameSummary) {
	h.mu.Lock()
	h.frames = append(h.frames, f)
	if over := len(h.frames) - h.history; over > 0 {
		h.frames = append(h.frames[:0], h.frames[over:]...)
	}
	h.mu.Unlock()
	h.wsHub.BroadcastFrame(f)
}

func (h *Handlers) push(f FrameSummary) {
	select {
	case h.feed <- f:
	default:
		h.logger.Warn("frame feed full, summary dropped", "device", f.Device, "kind", f.Kind)
	}
}

// OnSynchronized implements phy.Listener.
func (h *Handlers) OnSynchronized(device phytag.DeviceID, tag *phytag.Tag) {
	h.push(Summarize(phy.EventSynchronized, device, tag, 0))
}

// OnReceived implements phy.Listener.
func (h *Handlers) OnReceived(device phytag.DeviceID, tag *phytag.Tag) {
	h.push(Summarize(phy.EventReceived, device, tag, 0))
}

// OnAborted implements phy.Listener.
func (h *Handlers) OnAborted(device phytag.DeviceID, tag *phytag.Tag, reason phy.AbortReason) {
	h.push(Summarize(phy.EventAborted, device, tag, reason))
}

// Start runs a scenario in the background. It fails if one is running.
func (h *Handlers) Start(ctx context.Context) error {
	if h.run == nil {
		return fmt.Errorf("no scenario configured")
	}
	h.mu.Lock()
	if h.status == StatusRunning {
		h.mu.Unlock()
		return fmt.Errorf("scenario already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	h.status, h.errMsg, h.cancel = StatusRunning, "", cancel
	h.frames = nil
	h.mu.Unlock()

	h.wsHub.BroadcastStatus(StatusRunning, "scenario started")
	go func() {
		defer cancel()
		rep, err := h.run(ctx, h)

		h.mu.Lock()
		h.report = rep
		if err != nil {
			h.status, h.errMsg = StatusError, err.Error()
		} else {
			h.status = StatusCompleted
		}
		h.cancel = nil
		h.mu.Unlock()

		if err != nil {
			h.logger.Error("scenario", "err", err)
			h.wsHub.BroadcastStatus(StatusError, err.Error())
			return
		}
		h.wsHub.BroadcastStatus(StatusCompleted, "scenario finished")
	}()
	return nil
}

// Stop cancels a running scenario.
func (h *Handlers) Stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return false
	}
	h.cancel()
	return true
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "err", err)
		return
	}

	h.wsHub.AddClient(conn)

	// Drain client messages until it goes away.
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// HandleRun starts a scenario.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.Start(context.WithoutCancel(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": StatusRunning})
}

// HandleStop cancels the running scenario.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": h.Stop()})
}

// HandleStatus returns the run status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := map[string]any{
		"status":  h.status,
		"frames":  len(h.frames),
		"clients": h.wsHub.Clients(),
	}
	if h.errMsg != "" {
		resp["error"] = h.errMsg
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

// HandleFrames returns the most recent frame summaries, optionally filtered
// by ?device=.
func (h *Handlers) HandleFrames(w http.ResponseWriter, r *http.Request) {
	var device uint64
	filter := r.URL.Query().Get("device")
	if filter != "" {
		d, err := strconv.ParseUint(filter, 10, 32)
		if err != nil {
			http.Error(w, fmt.Sprintf("device: %v", err), http.StatusBadRequest)
			return
		}
		device = d
	}

	h.mu.Lock()
	out := make([]FrameSummary, 0, len(h.frames))
	for _, f := range h.frames {
		if filter == "" || uint64(f.Device) == device {
			out = append(out, f)
		}
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

// HandleReport returns the last scenario report as YAML.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	rep := h.report
	h.mu.Unlock()
	if rep == nil {
		http.Error(w, "No report yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	if err := rep.WriteYAML(w); err != nil {
		h.logger.Error("write report", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
