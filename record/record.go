// Package record decodes the per-field binary samples inside a CollectData
// record stream into typed values, against the field-type enumeration
// parsed by package tdf.
package record

import (
	"fmt"
	"sync"

	"github.com/kvello/pbcdlcomm/clog"
	"github.com/kvello/pbcdlcomm/pakbus"
	"github.com/kvello/pbcdlcomm/tdf"
)

// UnimplementedSentinel is emitted in place of a field-type code this
// decoder doesn't understand, so downstream column alignment is preserved.
const UnimplementedSentinel = -9999

// Kind identifies which Go type a decoded Value carries.
type Kind int

const (
	KindUint32 Kind = iota
	KindInt32
	KindFloat32
	KindBool
	KindString
	KindUnimplemented
)

// Value is one decoded field sample.
type Value struct {
	Kind   Kind
	Uint32 uint32
	Int32  int32
	Float  float32
	Bool   bool
	Str    string
}

// FieldSize returns the on-wire byte size of one sample of the given field
// (not multiplied by Dimension), or -1 for a variable-length field (type
// 16) whose size can't be known without reading it.
func FieldSize(f tdf.Field) int {
	switch f.FieldType {
	case 1, 4, 10, 17, 27, 28:
		return 1
	case 2, 5, 7, 19, 21:
		return 2
	case 3, 6, 8, 9, 12, 20, 22, 24, 26:
		return 4
	case 11:
		return int(f.Dimension)
	case 13:
		return 6
	case 14, 18, 23, 25:
		return 8
	case 15:
		return 3
	case 16:
		return -1
	default:
		return -1
	}
}

// unimplementedSeen dedups the "unimplemented field type" warning by field
// name: a misconfigured table shouldn't spam one warning per record.
type unimplementedSeen struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newUnimplementedSeen() *unimplementedSeen {
	return &unimplementedSeen{seen: make(map[string]bool)}
}

func (u *unimplementedSeen) warnOnce(log clog.Clog, f tdf.Field) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.seen[f.Name] {
		return
	}
	u.seen[f.Name] = true
	log.Warn("field %q uses unimplemented type code %d; emitting sentinel", f.Name, f.FieldType)
}

// Decoder decodes field samples, remembering which field names it has
// already warned about for unimplemented types. The collector uses one
// Decoder for all tables of a collection pass.
type Decoder struct {
	log  clog.Clog
	warn *unimplementedSeen
}

// NewDecoder builds a Decoder that logs unimplemented-type warnings via log.
func NewDecoder(log clog.Clog) *Decoder {
	return &Decoder{log: log, warn: newUnimplementedSeen()}
}

// DecodeSample consumes and decodes one sample of field f from the front of
// buf, returning the value and the number of bytes consumed. For type 16
// (variable-length string) the sample is NUL-terminated in-stream, so the
// consumed length isn't known ahead of time.
func (d *Decoder) DecodeSample(f tdf.Field, buf []byte) (Value, int, error) {
	switch f.FieldType {
	case 1, 2, 3, 17: // unsigned integers, BE
		size := FieldSize(f)
		v, err := pakbus.DeserializeBE(buf, size)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindUint32, Uint32: v}, size, nil

	case 4, 5, 6: // signed integers, BE
		size := FieldSize(f)
		raw, err := pakbus.DeserializeBE(buf, size)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindInt32, Int32: signExtend(raw, size)}, size, nil

	case 7: // FP2 final-storage float
		if len(buf) < 2 {
			return Value{}, 0, &pakbus.ParseError{Offset: 0, Want: 2, Len: len(buf)}
		}
		raw, err := pakbus.DeserializeBE(buf, 2)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindFloat32, Float: pakbus.FinalStorageFloat(uint16(raw))}, 2, nil

	case 9: // IEEE-754 f32 BE
		if len(buf) < 4 {
			return Value{}, 0, &pakbus.ParseError{Offset: 0, Want: 4, Len: len(buf)}
		}
		raw, err := pakbus.DeserializeBE(buf, 4)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindFloat32, Float: pakbus.IntBitsToFloat(raw)}, 4, nil

	case 10, 27, 28: // bool, high bit of byte
		if len(buf) < 1 {
			return Value{}, 0, &pakbus.ParseError{Offset: 0, Want: 1, Len: len(buf)}
		}
		return Value{Kind: KindBool, Bool: buf[0]&0x80 != 0}, 1, nil

	case 11: // fixed-length string, one sample spans the whole dimension
		size := int(f.Dimension)
		s, err := pakbus.FixedLenString(buf, size)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindString, Str: s}, size, nil

	case 12: // sec-resolution time
		if len(buf) < 4 {
			return Value{}, 0, &pakbus.ParseError{Offset: 0, Want: 4, Len: len(buf)}
		}
		v, err := pakbus.DeserializeBE(buf, 4)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindUint32, Uint32: v}, 4, nil

	case 13: // 10ms-resolution time, top 4 of 6 bytes carry the value used
		if len(buf) < 6 {
			return Value{}, 0, &pakbus.ParseError{Offset: 0, Want: 6, Len: len(buf)}
		}
		v, err := pakbus.DeserializeBE(buf[:4], 4)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindUint32, Uint32: v}, 6, nil

	case 16: // variable-length string, NUL-terminated in-stream
		s, n, err := pakbus.VarLenString(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindString, Str: s}, n, nil

	default:
		size := FieldSize(f)
		if size < 0 {
			size = 1
		}
		if len(buf) < size {
			return Value{}, 0, &pakbus.ParseError{Offset: 0, Want: size, Len: len(buf)}
		}
		d.warn.warnOnce(d.log, f)
		return Value{Kind: KindUnimplemented}, size, nil
	}
}

// signExtend interprets the low n*8 bits of raw as a two's-complement
// signed integer of that width.
func signExtend(raw uint32, n int) int32 {
	bits := uint(n * 8)
	shift := 32 - bits
	return int32(raw<<shift) >> shift
}

// String renders v the way the delimited-text writer prints a cell.
func (v Value) String() string {
	switch v.Kind {
	case KindUint32:
		return fmt.Sprintf("%d", v.Uint32)
	case KindInt32:
		return fmt.Sprintf("%d", v.Int32)
	case KindFloat32:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		if v.Bool {
			return "1"
		}
		return "0"
	case KindString:
		return v.Str
	default:
		return fmt.Sprintf("%d", UnimplementedSentinel)
	}
}
