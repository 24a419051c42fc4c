package phytag

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jeongseonghan/wifi-phy-sim/internal/fec"
	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

// Wire format:
//
//	[TotalLen(4B)][Presence(2B)] { [GroupLen(4B)][Group] }* [CRC-32(4B)]
//
// Presence has one bit per group; groups follow in bit order. Every group is
// length-prefixed, so readers skip groups they do not know.
const (
	lenSize      = 4
	presenceSize = 2
	crcSize      = 4
	wireOverhead = lenSize + presenceSize + crcSize
)

// Group bits of the presence word.
const (
	groupTx = iota
	groupPathLoss
	groupRxSamples
	groupNoise
	groupShort
	groupLong
	groupEstimate
	groupHeader
	groupRxBits
	groupPreambleSinr
	groupHeaderSinr
	groupPayloadSinr
	groupOverallSinr
	groupRxDevice
	groupCaptured
	numGroups
)

// ErrCorrupt is returned by Deserialize for malformed input.
var ErrCorrupt = errors.New("corrupt tag encoding")

func samplesSize(s signal.Samples) int { return 4 + 16*len(s) }
func bitsSize(b signal.Bits) int       { return 4 + (len(b)+7)/8 }
func traceSize(f []float64) int        { return 4 + 8*len(f) }

func (t *Tag) groupSize(g int) int {
	switch g {
	case groupTx:
		p := t.tx.val
		// preamble, mode, duration, frequency, sample duration, device, power
		return 1 + 1 + 8 + 8 + 8 + 4 + 8 + bitsSize(p.Bits) + samplesSize(p.Samples)
	case groupRxSamples:
		return samplesSize(t.rxSamples.val)
	case groupNoise:
		return samplesSize(t.noise.val)
	case groupShort:
		return 4 + traceSize(t.short.val.Trace)
	case groupLong:
		return 4 + traceSize(t.long.val.Trace)
	case groupEstimate:
		return 16
	case groupHeader:
		return 1 + 2
	case groupRxBits:
		return bitsSize(t.rxBits.val)
	case groupRxDevice:
		return 4
	case groupCaptured:
		return 0
	default: // path loss and SINR scalars
		return 8
	}
}

func (t *Tag) present(g int) bool {
	switch g {
	case groupTx:
		return t.tx.ok
	case groupPathLoss:
		return t.pathLoss.ok
	case groupRxSamples:
		return t.rxSamples.ok
	case groupNoise:
		return t.noise.ok
	case groupShort:
		return t.short.ok
	case groupLong:
		return t.long.ok
	case groupEstimate:
		return t.estimate.ok
	case groupHeader:
		return t.header.ok
	case groupRxBits:
		return t.rxBits.ok
	case groupPreambleSinr:
		return t.preambleSinr.ok
	case groupHeaderSinr:
		return t.headerSinr.ok
	case groupPayloadSinr:
		return t.payloadSinr.ok
	case groupOverallSinr:
		return t.overallSinr.ok
	case groupRxDevice:
		return t.rxDevice.ok
	case groupCaptured:
		return t.captured
	}
	return false
}

// SerializedSize returns the number of bytes Serialize will produce. It
// depends on which groups are present.
func (t *Tag) SerializedSize() int {
	n := wireOverhead
	for g := 0; g < numGroups; g++ {
		if t.present(g) {
			n += lenSize + t.groupSize(g)
		}
	}
	return n
}

// Serialize encodes the tag with a trailing CRC-32.
func (t *Tag) Serialize() []byte {
	total := t.SerializedSize()
	w := &writer{buf: make([]byte, 0, total)}
	w.u32(uint32(total))

	var presence uint16
	for g := 0; g < numGroups; g++ {
		if t.present(g) {
			presence |= 1 << g
		}
	}
	w.u16(presence)

	for g := 0; g < numGroups; g++ {
		if !t.present(g) {
			continue
		}
		w.u32(uint32(t.groupSize(g)))
		t.writeGroup(w, g)
	}

	w.u32(fec.CRC32(w.buf))
	return w.buf
}

func (t *Tag) writeGroup(w *writer, g int) {
	switch g {
	case groupTx:
		p := t.tx.val
		w.u8(uint8(p.Preamble))
		w.u8(uint8(p.Mode))
		w.i64(int64(p.Duration))
		w.f64(p.Frequency)
		w.i64(int64(p.SampleDuration))
		w.u32(uint32(p.Device))
		w.f64(p.PowerDbm)
		w.bits(p.Bits)
		w.samples(p.Samples)
	case groupPathLoss:
		w.f64(t.pathLoss.val)
	case groupRxSamples:
		w.samples(t.rxSamples.val)
	case groupNoise:
		w.samples(t.noise.val)
	case groupShort:
		w.u32(uint32(t.short.val.Start))
		w.trace(t.short.val.Trace)
	case groupLong:
		w.u32(uint32(t.long.val.Start))
		w.trace(t.long.val.Trace)
	case groupEstimate:
		w.f64(real(t.estimate.val))
		w.f64(imag(t.estimate.val))
	case groupHeader:
		w.u8(uint8(t.header.val.Mode))
		w.u16(uint16(t.header.val.Length))
	case groupRxBits:
		w.bits(t.rxBits.val)
	case groupPreambleSinr:
		w.f64(t.preambleSinr.val)
	case groupHeaderSinr:
		w.f64(t.headerSinr.val)
	case groupPayloadSinr:
		w.f64(t.payloadSinr.val)
	case groupOverallSinr:
		w.f64(t.overallSinr.val)
	case groupRxDevice:
		w.u32(uint32(t.rxDevice.val))
	}
}

// Deserialize decodes a tag produced by Serialize, verifying the CRC-32.
func Deserialize(data []byte) (*Tag, error) {
	if len(data) < wireOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}
	total := int(binary.BigEndian.Uint32(data[0:4]))
	if total < wireOverhead || total > len(data) {
		return nil, fmt.Errorf("%w: length %d, have %d", ErrCorrupt, total, len(data))
	}
	body := data[:total-crcSize]
	expected := binary.BigEndian.Uint32(data[total-crcSize : total])
	if actual := fec.CRC32(body); actual != expected {
		return nil, fmt.Errorf("%w: CRC mismatch: expected 0x%08x, got 0x%08x", ErrCorrupt, expected, actual)
	}

	r := &reader{buf: body[lenSize:]}
	presence := r.u16()
	t := &Tag{}
	for g := 0; g < 16; g++ {
		if presence&(1<<g) == 0 {
			continue
		}
		size := int(r.u32())
		payload := r.take(size)
		if r.err != nil {
			return nil, fmt.Errorf("%w: group %d", ErrCorrupt, g)
		}
		if g >= numGroups {
			continue
		}
		gr := &reader{buf: payload}
		t.readGroup(gr, g)
		if gr.err != nil || len(gr.buf) != 0 {
			return nil, fmt.Errorf("%w: group %d payload", ErrCorrupt, g)
		}
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return t, nil
}

// requires lists, per group, the groups that must be present with it. It
// mirrors the ordering enforced by the setters.
var requires = [numGroups][]int{
	groupPathLoss:     {groupTx},
	groupRxSamples:    {groupTx},
	groupNoise:        {groupRxSamples},
	groupShort:        {groupRxSamples},
	groupLong:         {groupShort},
	groupEstimate:     {groupLong},
	groupHeader:       {groupLong},
	groupRxBits:       {groupHeader},
	groupPreambleSinr: {groupLong, groupNoise},
	groupHeaderSinr:   {groupHeader, groupNoise},
	groupPayloadSinr:  {groupRxBits, groupNoise},
	groupOverallSinr:  {groupRxBits, groupNoise},
	groupRxDevice:     {groupTx},
	groupCaptured:     {groupShort},
}

// validate checks a decoded tag against the invariants the setters keep.
func (t *Tag) validate() error {
	for g := 0; g < numGroups; g++ {
		if !t.present(g) {
			continue
		}
		for _, dep := range requires[g] {
			if !t.present(dep) {
				return fmt.Errorf("group %d without group %d", g, dep)
			}
		}
	}
	if t.tx.ok {
		p := t.tx.val
		if !p.Mode.Valid() {
			return fmt.Errorf("tx mode %d", p.Mode)
		}
		if len(p.Samples) == 0 || p.SampleDuration <= 0 {
			return fmt.Errorf("tx samples %d, sample duration %v", len(p.Samples), p.SampleDuration)
		}
	}
	rx := len(t.rxSamples.val)
	if t.rxSamples.ok && rx < len(t.tx.val.Samples) {
		return fmt.Errorf("rx samples %d shorter than tx %d", rx, len(t.tx.val.Samples))
	}
	if t.noise.ok && len(t.noise.val) != rx {
		return fmt.Errorf("noise length %d, rx samples %d", len(t.noise.val), rx)
	}
	if t.short.ok && (t.short.val.Start < 0 || t.short.val.Start >= rx) {
		return fmt.Errorf("short symbol %d outside rx samples", t.short.val.Start)
	}
	if t.long.ok {
		if t.long.val.Start < t.short.val.Start {
			return fmt.Errorf("long symbol %d before short symbol %d", t.long.val.Start, t.short.val.Start)
		}
		if t.long.val.Start >= rx {
			return fmt.Errorf("long symbol %d outside rx samples", t.long.val.Start)
		}
	}
	if t.header.ok && !t.header.val.Mode.Valid() {
		return fmt.Errorf("header mode %d", t.header.val.Mode)
	}
	return nil
}

func (t *Tag) readGroup(r *reader, g int) {
	switch g {
	case groupTx:
		var p TxParams
		p.Preamble = modem.Preamble(r.u8())
		p.Mode = modem.Mode(r.u8())
		p.Duration = time.Duration(r.i64())
		p.Frequency = r.f64()
		p.SampleDuration = time.Duration(r.i64())
		p.Device = DeviceID(r.u32())
		p.PowerDbm = r.f64()
		p.Bits = r.bits()
		p.Samples = r.samples()
		t.tx = some(p)
	case groupPathLoss:
		t.pathLoss = some(r.f64())
	case groupRxSamples:
		t.rxSamples = some(r.samples())
	case groupNoise:
		t.noise = some(r.samples())
	case groupShort:
		start := int(r.u32())
		t.short = some(SymbolSync{Start: start, Trace: r.trace()})
	case groupLong:
		start := int(r.u32())
		t.long = some(SymbolSync{Start: start, Trace: r.trace()})
	case groupEstimate:
		re := r.f64()
		t.estimate = some(complex(re, r.f64()))
	case groupHeader:
		mode := modem.Mode(r.u8())
		t.header = some(Header{Mode: mode, Length: int(r.u16())})
	case groupRxBits:
		t.rxBits = some(r.bits())
	case groupPreambleSinr:
		t.preambleSinr = some(r.f64())
	case groupHeaderSinr:
		t.headerSinr = some(r.f64())
	case groupPayloadSinr:
		t.payloadSinr = some(r.f64())
	case groupOverallSinr:
		t.overallSinr = some(r.f64())
	case groupRxDevice:
		t.rxDevice = some(DeviceID(r.u32()))
	case groupCaptured:
		t.captured = true
	}
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) i64(v int64)  { w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v)) }
func (w *writer) f64(v float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *writer) bits(b signal.Bits) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b.Pack()...)
}

func (w *writer) samples(s signal.Samples) {
	w.u32(uint32(len(s)))
	for _, v := range s {
		w.f64(real(v))
		w.f64(imag(v))
	}
}

func (w *writer) trace(f []float64) {
	w.u32(uint32(len(f)))
	for _, v := range f {
		w.f64(v)
	}
}

// reader records the first short read in err; later reads return zero.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf) {
		r.err = ErrCorrupt
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) i64() int64 {
	if b := r.take(8); b != nil {
		return int64(binary.BigEndian.Uint64(b))
	}
	return 0
}

func (r *reader) f64() float64 {
	return math.Float64frombits(uint64(r.i64()))
}

// count reads a length prefix and checks that n elements of size bytes fit.
func (r *reader) count(size int) int {
	n := int(r.u32())
	if r.err == nil && n*size > len(r.buf) {
		r.err = ErrCorrupt
		return 0
	}
	return n
}

func (r *reader) bits() signal.Bits {
	n := int(r.u32())
	packed := r.take((n + 7) / 8)
	if r.err != nil {
		return nil
	}
	b, err := signal.UnpackBits(packed, n)
	if err != nil {
		r.err = err
		return nil
	}
	return b
}

func (r *reader) samples() signal.Samples {
	n := r.count(16)
	if r.err != nil {
		return nil
	}
	s := make(signal.Samples, n)
	for i := range s {
		re := r.f64()
		s[i] = complex(re, r.f64())
	}
	return s
}

func (r *reader) trace() []float64 {
	n := r.count(8)
	if r.err != nil {
		return nil
	}
	var f []float64
	if n > 0 {
		f = make([]float64, n)
	}
	for i := range f {
		f[i] = r.f64()
	}
	return f
}
