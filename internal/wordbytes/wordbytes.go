// Package wordbytes provides little-endian fixed-width byte encodings,
// adapted from the teacher's internal/u32 and internal/u64 (API shape only:
// LeBytes kept). No other package of this module imports it; the serialized
// wire format (internal/serialize) uses internal/varint.
package wordbytes

import "encoding/binary"

// LeBytes32 returns v's 4-byte little-endian encoding.
func LeBytes32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// LeBytes64 returns v's 8-byte little-endian encoding.
func LeBytes64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
