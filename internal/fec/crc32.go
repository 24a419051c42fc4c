package fec

import (
	"encoding/binary"
	"hash/crc32"
)

// CRCSize is the length of an appended checksum.
const CRCSize = 4

// CRC32 computes the IEEE CRC-32 used as the 802.11 frame check sequence.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// AppendCRC32 returns a copy of data followed by its big-endian CRC-32.
func AppendCRC32(data []byte) []byte {
	out := make([]byte, len(data), len(data)+CRCSize)
	copy(out, data)
	return binary.BigEndian.AppendUint32(out, CRC32(data))
}

// VerifyCRC32 splits off the trailing CRC-32 and checks it. The returned
// data aliases the input.
func VerifyCRC32(withCRC []byte) ([]byte, bool) {
	if len(withCRC) < CRCSize {
		return nil, false
	}
	n := len(withCRC) - CRCSize
	data := withCRC[:n]
	return data, binary.BigEndian.Uint32(withCRC[n:]) == CRC32(data)
}
