// Package psdu builds the byte payloads carried by simulated frames: a small
// MAC-style header, the payload and a CRC-32 frame check sequence, with an
// optional Reed-Solomon outer code.
package psdu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jeongseonghan/wifi-phy-sim/internal/fec"
	"github.com/jeongseonghan/wifi-phy-sim/internal/modem"
	"github.com/jeongseonghan/wifi-phy-sim/internal/signal"
)

// Frame types
const (
	TypeData   byte = 0x01
	TypeAck    byte = 0x02
	TypeBeacon byte = 0x03
)

// Frame size limits
const (
	HeaderSize = 6
	FCSSize    = fec.CRCSize
)

var (
	// ErrFCS is returned when the frame check sequence does not match.
	ErrFCS = errors.New("frame check sequence mismatch")
	// ErrTooLong is returned when a frame does not fit the SIGNAL length field.
	ErrTooLong = errors.New("frame exceeds maximum PSDU length")
)

// Frame is one PSDU.
// Format: [Type(1B)][Src(1B)][Seq(2B)][PayloadLen(2B)][Payload][FCS(4B)]
type Frame struct {
	Type    byte
	Src     byte
	Seq     uint16
	Payload []byte
}

// TypeName returns a human-readable name for the frame type.
func (f *Frame) TypeName() string {
	switch f.Type {
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	case TypeBeacon:
		return "BEACON"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", f.Type)
	}
}

// NewDataFrame creates a DATA frame.
func NewDataFrame(src byte, seq uint16, payload []byte) *Frame {
	return &Frame{Type: TypeData, Src: src, Seq: seq, Payload: payload}
}

// Len returns the encoded length without an outer code.
func (f *Frame) Len() int {
	return HeaderSize + len(f.Payload) + FCSSize
}

// Encode serializes the frame with its FCS.
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeaderSize, f.Len())
	buf[0] = f.Type
	buf[1] = f.Src
	binary.BigEndian.PutUint16(buf[2:4], f.Seq)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return fec.AppendCRC32(buf)
}

// Decode parses bytes into a Frame, verifying the FCS. Trailing bytes after
// the FCS are ignored.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize+FCSSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	n := int(binary.BigEndian.Uint16(data[4:6]))
	end := HeaderSize + n + FCSSize
	if len(data) < end {
		return nil, fmt.Errorf("frame truncated: have %d, need %d", len(data), end)
	}
	body, ok := fec.VerifyCRC32(data[:end])
	if !ok {
		return nil, ErrFCS
	}
	f := &Frame{Type: body[0], Src: body[1], Seq: binary.BigEndian.Uint16(body[2:4])}
	if n > 0 {
		f.Payload = append([]byte(nil), body[HeaderSize:]...)
	}
	return f, nil
}

// Codec converts frames to the bit sequences handed to the PHY and back.
// A nil outer code sends the frame as is.
type Codec struct {
	outer *fec.OuterCode
}

// NewCodec creates a codec; outer may be nil.
func NewCodec(outer *fec.OuterCode) *Codec {
	return &Codec{outer: outer}
}

// ToBits encodes f, applies the outer code and expands to bits.
func (c *Codec) ToBits(f *Frame) (signal.Bits, error) {
	raw := f.Encode()
	if c.outer != nil {
		enc, err := c.outer.Protect(raw)
		if err != nil {
			return nil, fmt.Errorf("outer code: %w", err)
		}
		raw = enc
	}
	if len(raw) > modem.MaxLength {
		return nil, fmt.Errorf("%d octets: %w", len(raw), ErrTooLong)
	}
	return signal.BitsFromBytes(raw), nil
}

// FromBits reverses ToBits. It reports the number of outer code shards that
// had to be rebuilt.
func (c *Codec) FromBits(bits signal.Bits) (*Frame, int, error) {
	raw := bits.Bytes()
	repaired := 0
	if c.outer != nil {
		dec, damaged, err := c.outer.Recover(raw)
		if err != nil {
			return nil, damaged, fmt.Errorf("outer code: %w", err)
		}
		raw, repaired = dec, damaged
	}
	f, err := Decode(raw)
	return f, repaired, err
}
