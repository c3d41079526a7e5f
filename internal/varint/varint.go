// Package varint implements LEB128 variable-length integer encoding for the
// serialized wire format (spec.md §6), adapted from the teacher's
// internal/leb128 (API shape only — LoadInt32/LoadUint32/EncodeInt32 etc. —
// since the original source wasn't retrieved, only its *_test.go callers).
package varint

import "fmt"

// EncodeUint32 appends v's unsigned LEB128 encoding to dst.
func EncodeUint32(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}

// LoadUint32 decodes an unsigned LEB128 value from the front of buf,
// returning the value and the number of bytes consumed.
func LoadUint32(buf []byte) (v uint32, n int, err error) {
	var shift uint
	for n < len(buf) {
		b := buf[n]
		n++
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, n, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, n, fmt.Errorf("varint: uint32 overflow")
		}
	}
	return 0, n, fmt.Errorf("varint: truncated buffer")
}

// EncodeInt32 appends v's signed LEB128 encoding to dst.
func EncodeInt32(dst []byte, v int32) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// LoadInt32 decodes a signed LEB128 value from the front of buf.
func LoadInt32(buf []byte) (v int32, n int, err error) {
	var shift uint
	var b byte
	for n < len(buf) {
		b = buf[n]
		n++
		v |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, n, nil
		}
		if shift >= 35 {
			return 0, n, fmt.Errorf("varint: int32 overflow")
		}
	}
	return 0, n, fmt.Errorf("varint: truncated buffer")
}

// EncodeUint64/LoadUint64 and EncodeInt64/LoadInt64 are the 64-bit analogues,
// used for the serializer's constant-pool integer/float payloads.

// EncodeUint64 appends v's unsigned LEB128 encoding to dst.
func EncodeUint64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}

// LoadUint64 decodes an unsigned LEB128 value from the front of buf.
func LoadUint64(buf []byte) (v uint64, n int, err error) {
	var shift uint
	for n < len(buf) {
		b := buf[n]
		n++
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, n, nil
		}
		shift += 7
		if shift >= 70 {
			return 0, n, fmt.Errorf("varint: uint64 overflow")
		}
	}
	return 0, n, fmt.Errorf("varint: truncated buffer")
}

// EncodeInt64 appends v's signed LEB128 encoding to dst.
func EncodeInt64(dst []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// LoadInt64 decodes a signed LEB128 value from the front of buf.
func LoadInt64(buf []byte) (v int64, n int, err error) {
	var shift uint
	var b byte
	for n < len(buf) {
		b = buf[n]
		n++
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v, n, nil
		}
		if shift >= 70 {
			return 0, n, fmt.Errorf("varint: int64 overflow")
		}
	}
	return 0, n, fmt.Errorf("varint: truncated buffer")
}
