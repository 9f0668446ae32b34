// Package protocol defines the wire formats used once the data channel is
// open: the metadata frame that opens a transfer and the CRC32-framed
// binary chunks that carry the file bytes.
package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// CRC32 computes the IEEE polynomial checksum of data.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CRC32Hex formats a checksum as exactly 8 lowercase hex digits.
func CRC32Hex(sum uint32) string {
	return fmt.Sprintf("%08x", sum)
}

// chunkHeaderSize is the leading CRC32 field width in a ChunkFrame.
const chunkHeaderSize = 4

// EncodeChunk frames payload as [little-endian u32 CRC32][payload].
func EncodeChunk(payload []byte) []byte {
	buf := make([]byte, chunkHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[:chunkHeaderSize], CRC32(payload))
	copy(buf[chunkHeaderSize:], payload)
	return buf
}

// DecodeChunk splits a binary frame into its declared checksum and payload.
// It returns ok=false if buf is shorter than a valid frame (§3: N ≥ 5).
func DecodeChunk(buf []byte) (receivedCRC uint32, payload []byte, ok bool) {
	if len(buf) < chunkHeaderSize+1 {
		return 0, nil, false
	}
	receivedCRC = binary.LittleEndian.Uint32(buf[:chunkHeaderSize])
	payload = buf[chunkHeaderSize:]
	return receivedCRC, payload, true
}
