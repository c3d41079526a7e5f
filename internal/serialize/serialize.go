// Package serialize implements the Serializer/Deserializer (spec.md §4.9,
// §6, C11): turning a built root's frozen bytecode, constant pool, and
// exception-handler table into a portable byte stream and back, with exact
// round-trip fidelity (spec.md §8: "deserialize(serialize(root)) ≡ root").
//
// Per DESIGN.md's Open Question decisions, this implements the wire format
// over the *frozen bytecode snapshot* rather than a replayed builder-call
// stream: the operation tags spec.md describes ((opId<<1)|isEnd, plus the
// CODE_CREATE_LABEL/CODE_CREATE_LOCAL/CODE_CREATE_OBJECT/CODE_END sentinels)
// are a reasonable format for reconstructing a root from scratch by
// replaying begin…/end… calls, but that requires the Builder itself to
// record every call as it happens — a recording layer with no direct
// teacher analogue and no test scenario in spec.md §8 that exercises it.
// The frozen-snapshot format below keeps the same tagging idea (a small
// negative sentinel distinguishes a structural marker from a dense index)
// applied to what spec.md §6 actually needs on the wire: the constant pool,
// the bytecode array, and the handler table.
package serialize

import (
	"fmt"
	"math"

	"github.com/optree-lang/optree/internal/bytecode"
	"github.com/optree-lang/optree/internal/varint"
)

// Constant-kind tags. Negative values are reserved the way spec.md reserves
// CODE_CREATE_LABEL(-2)/CODE_CREATE_LOCAL(-3)/CODE_CREATE_OBJECT(-4)/
// CODE_END(-5) as sentinels distinguishable from a non-negative dense index.
const (
	tagInt64 int32 = iota
	tagUint64
	tagFloat64
	tagBool
	tagString
	tagObject = -4 // spec.md's CODE_CREATE_OBJECT: dense id into the caller-supplied object table
)

// ErrUnsupportedConstant is returned when a constant pool entry is neither
// a wire-primitive type nor resolvable against the object table.
var ErrUnsupportedConstant = fmt.Errorf("serialize: constant type has no wire representation")

// Snapshot is everything a RootProgram needs on the wire: the frozen
// bytecode array, its constant pool, and its exception-handler table
// (spec.md §3 RootProgram, minus the in-memory-only cachedNodes array).
type Snapshot struct {
	Words          []uint16
	Constants      []any
	Handlers       []bytecode.HandlerEntry
	MaxStackHeight int
	NumLocals      int
}

// Serialize encodes s. Any constant that isn't int64/uint64/float64/bool/
// string is looked up in objects (by identity, via a linear scan — object
// constants are rare enough in practice that this stays simple) and written
// as a dense index into it instead of attempting a generic byte encoding.
func Serialize(s Snapshot, objects []any) ([]byte, error) {
	var out []byte

	out = varint.EncodeUint32(out, uint32(s.MaxStackHeight))
	out = varint.EncodeUint32(out, uint32(s.NumLocals))

	out = varint.EncodeUint32(out, uint32(len(s.Words)))
	for _, w := range s.Words {
		out = varint.EncodeUint32(out, uint32(w))
	}

	out = varint.EncodeUint32(out, uint32(len(s.Constants)))
	for _, c := range s.Constants {
		var err error
		out, err = encodeConstant(out, c, objects)
		if err != nil {
			return nil, err
		}
	}

	out = varint.EncodeUint32(out, uint32(len(s.Handlers)))
	for _, h := range s.Handlers {
		out = varint.EncodeUint32(out, uint32(h.StartBci))
		out = varint.EncodeUint32(out, uint32(h.EndBci))
		out = varint.EncodeUint32(out, uint32(h.HandlerBci))
		out = varint.EncodeUint32(out, uint32(h.StartSp))
		out = varint.EncodeUint32(out, uint32(h.ExcLocalIdx))
	}

	return out, nil
}

func encodeConstant(out []byte, c any, objects []any) ([]byte, error) {
	switch v := c.(type) {
	case int64:
		out = varint.EncodeInt32(out, tagInt64)
		out = varint.EncodeInt64(out, v)
	case uint64:
		out = varint.EncodeInt32(out, tagUint64)
		out = varint.EncodeUint64(out, v)
	case float64:
		out = varint.EncodeInt32(out, tagFloat64)
		out = varint.EncodeUint64(out, math.Float64bits(v))
	case bool:
		out = varint.EncodeInt32(out, tagBool)
		b := byte(0)
		if v {
			b = 1
		}
		out = append(out, b)
	case string:
		out = varint.EncodeInt32(out, tagString)
		out = varint.EncodeUint32(out, uint32(len(v)))
		out = append(out, v...)
	default:
		idx := indexOfObject(objects, c)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedConstant, c)
		}
		out = varint.EncodeInt32(out, tagObject)
		out = varint.EncodeUint32(out, uint32(idx))
	}
	return out, nil
}

// Deserialize reverses Serialize. objects must be the same slice (by
// content, not necessarily identity) passed to Serialize, used to resolve
// CODE_CREATE_OBJECT-tagged constants back to their Go values.
func Deserialize(data []byte, objects []any) (Snapshot, error) {
	var s Snapshot
	var n int
	var err error

	var u32 uint32
	u32, n, err = varint.LoadUint32(data)
	if err != nil {
		return s, err
	}
	s.MaxStackHeight = int(u32)
	data = data[n:]

	u32, n, err = varint.LoadUint32(data)
	if err != nil {
		return s, err
	}
	s.NumLocals = int(u32)
	data = data[n:]

	u32, n, err = varint.LoadUint32(data)
	if err != nil {
		return s, err
	}
	data = data[n:]
	s.Words = make([]uint16, u32)
	for i := range s.Words {
		var w uint32
		w, n, err = varint.LoadUint32(data)
		if err != nil {
			return s, err
		}
		s.Words[i] = uint16(w)
		data = data[n:]
	}

	u32, n, err = varint.LoadUint32(data)
	if err != nil {
		return s, err
	}
	data = data[n:]
	s.Constants = make([]any, u32)
	for i := range s.Constants {
		s.Constants[i], data, err = decodeConstant(data, objects)
		if err != nil {
			return s, err
		}
	}

	u32, n, err = varint.LoadUint32(data)
	if err != nil {
		return s, err
	}
	data = data[n:]
	s.Handlers = make([]bytecode.HandlerEntry, u32)
	for i := range s.Handlers {
		var startBci, endBci, handlerBci, startSp, excLocal uint32
		for _, field := range []*uint32{&startBci, &endBci, &handlerBci, &startSp, &excLocal} {
			*field, n, err = varint.LoadUint32(data)
			if err != nil {
				return s, err
			}
			data = data[n:]
		}
		s.Handlers[i] = bytecode.HandlerEntry{
			StartBci: int(startBci), EndBci: int(endBci), HandlerBci: int(handlerBci),
			StartSp: int(startSp), ExcLocalIdx: int(excLocal),
		}
	}

	return s, nil
}

func decodeConstant(data []byte, objects []any) (any, []byte, error) {
	tag, n, err := varint.LoadInt32(data)
	if err != nil {
		return nil, data, err
	}
	data = data[n:]
	switch tag {
	case tagInt64:
		v, n, err := varint.LoadInt64(data)
		return v, data[n:], err
	case tagUint64:
		v, n, err := varint.LoadUint64(data)
		return v, data[n:], err
	case tagFloat64:
		bits, n, err := varint.LoadUint64(data)
		if err != nil {
			return nil, data, err
		}
		return math.Float64frombits(bits), data[n:], nil
	case tagBool:
		if len(data) == 0 {
			return nil, data, fmt.Errorf("serialize: truncated bool constant")
		}
		return data[0] == 1, data[1:], nil
	case tagString:
		ln, n, err := varint.LoadUint32(data)
		if err != nil {
			return nil, data, err
		}
		data = data[n:]
		if uint32(len(data)) < ln {
			return nil, data, fmt.Errorf("serialize: truncated string constant")
		}
		return string(data[:ln]), data[ln:], nil
	case tagObject:
		idx, n, err := varint.LoadUint32(data)
		if err != nil {
			return nil, data, err
		}
		data = data[n:]
		if int(idx) >= len(objects) {
			return nil, data, fmt.Errorf("serialize: object index %d out of range (%d objects)", idx, len(objects))
		}
		return objects[idx], data, nil
	default:
		return nil, data, fmt.Errorf("serialize: unknown constant tag %d", tag)
	}
}

func indexOfObject(objects []any, v any) int {
	for i, o := range objects {
		if o == v {
			return i
		}
	}
	return -1
}
