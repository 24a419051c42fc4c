package fec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ErrUnrecoverable is returned when more shards are damaged than the parity
// can rebuild.
var ErrUnrecoverable = errors.New("too many damaged shards")

const (
	DefaultDataShards   = 8
	DefaultParityShards = 4
	lengthPrefix        = 4
)

// OuterCode protects a byte string with Reed-Solomon parity shards. Every
// shard carries its own CRC-32, so a shard with bit errors becomes a known
// erasure that the parity can rebuild.
type OuterCode struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewOuterCode creates a code with the given shard counts.
func NewOuterCode(dataShards, parityShards int) (*OuterCode, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("create reed-solomon encoder: %w", err)
	}
	return &OuterCode{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

// DataShards returns the number of data shards.
func (c *OuterCode) DataShards() int { return c.dataShards }

// ParityShards returns the number of parity shards.
func (c *OuterCode) ParityShards() int { return c.parityShards }

func (c *OuterCode) shardSize(n int) int {
	return (lengthPrefix + n + c.dataShards - 1) / c.dataShards
}

// EncodedLen returns the protected length of n input bytes.
func (c *OuterCode) EncodedLen(n int) int {
	return (c.dataShards + c.parityShards) * (c.shardSize(n) + CRCSize)
}

// Protect returns data with a length prefix, split into shards, parity
// added and each shard followed by its CRC-32.
func (c *OuterCode) Protect(data []byte) ([]byte, error) {
	size := c.shardSize(len(data))
	flat := make([]byte, c.dataShards*size)
	binary.BigEndian.PutUint32(flat, uint32(len(data)))
	copy(flat[lengthPrefix:], data)

	total := c.dataShards + c.parityShards
	shards := make([][]byte, total)
	for i := 0; i < c.dataShards; i++ {
		shards[i] = flat[i*size : (i+1)*size]
	}
	for i := c.dataShards; i < total; i++ {
		shards[i] = make([]byte, size)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	out := make([]byte, 0, total*(size+CRCSize))
	for _, s := range shards {
		out = append(out, s...)
		out = binary.BigEndian.AppendUint32(out, CRC32(s))
	}
	return out, nil
}

// Recover rebuilds the original data. It returns the number of shards that
// failed their CRC.
func (c *OuterCode) Recover(encoded []byte) ([]byte, int, error) {
	total := c.dataShards + c.parityShards
	if len(encoded) == 0 || len(encoded)%total != 0 {
		return nil, 0, fmt.Errorf("encoded size %d not divisible by %d shards", len(encoded), total)
	}
	block := len(encoded) / total
	if block <= CRCSize {
		return nil, 0, fmt.Errorf("shard size %d too small", block)
	}

	shards := make([][]byte, total)
	damaged := 0
	for i := range shards {
		s, ok := VerifyCRC32(encoded[i*block : (i+1)*block])
		if !ok {
			damaged++
			continue
		}
		shards[i] = append([]byte(nil), s...)
	}
	if damaged > c.parityShards {
		return nil, damaged, fmt.Errorf("%d of %d shards: %w", damaged, total, ErrUnrecoverable)
	}
	if damaged > 0 {
		if err := c.enc.ReconstructData(shards); err != nil {
			return nil, damaged, fmt.Errorf("reconstruct: %w", err)
		}
	}

	flat := make([]byte, 0, c.dataShards*(block-CRCSize))
	for _, s := range shards[:c.dataShards] {
		flat = append(flat, s...)
	}
	n := int(binary.BigEndian.Uint32(flat))
	if n > len(flat)-lengthPrefix {
		return nil, damaged, fmt.Errorf("length prefix %d exceeds %d bytes", n, len(flat)-lengthPrefix)
	}
	return flat[lengthPrefix : lengthPrefix+n], damaged, nil
}
