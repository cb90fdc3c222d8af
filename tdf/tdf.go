// Package tdf parses the binary Table Definition File a datalogger sends
// back from a FileReceive transaction into the typed Table/Field records
// the record and datamgr packages work with.
package tdf

import (
	"github.com/kvello/pbcdlcomm/pakbus"
)

// NSec is a (seconds, nanoseconds) timestamp counted from the 1990 epoch.
// It orders lexicographically on (Sec, Nsec) and carries nsec overflow
// into sec on addition.
type NSec struct {
	Sec  uint32
	Nsec uint32
}

const nanosPerSec = 1_000_000_000

// Add returns n+other with nsec overflow carried into sec.
func (n NSec) Add(other NSec) NSec {
	sec := n.Sec + other.Sec
	nsec := n.Nsec + other.Nsec
	if nsec >= nanosPerSec {
		nsec -= nanosPerSec
		sec++
	}
	return NSec{Sec: sec, Nsec: nsec}
}

// Compare returns -1, 0, or 1 as n is less than, equal to, or greater than
// other, ordering lexicographically on (Sec, Nsec).
func (n NSec) Compare(other NSec) int {
	switch {
	case n.Sec < other.Sec:
		return -1
	case n.Sec > other.Sec:
		return 1
	case n.Nsec < other.Nsec:
		return -1
	case n.Nsec > other.Nsec:
		return 1
	default:
		return 0
	}
}

// Field is one column's metadata, as described by a table's field list.
type Field struct {
	FieldType   byte // low 7 bits; the high bit (readable flag) is stripped on parse
	Name        string
	Processing  string
	Unit        string
	Description string
	BegIdx      uint32
	Dimension   uint32
	SubDim      []uint32
}

// Table is one record stream's metadata plus the mutable cursor state the
// collection loop advances as it downloads records.
type Table struct {
	Name         string
	Num          int // 1-based index within the TDF
	Size         uint32
	TimeType     byte
	TimeInfo     NSec
	TimeInterval NSec
	Fields       []Field
	Signature    uint16

	LastRecordTime   NSec
	NextRecordNumber uint32
	HeaderSent       bool
}

const fieldTypeReadableMask = 0x7f

// Parse decodes raw (the full byte stream returned by a FileReceive of the
// station's ".TDF" file) into an ordered list of tables. A read that would
// run past the end of raw fails the whole parse with *pakbus.ParseError —
// there is no partial-TDF result, matching the "reject the whole TDF and
// clear the cached table list" invariant.
func Parse(raw []byte) ([]Table, error) {
	if len(raw) < 1 {
		return nil, &pakbus.ParseError{Offset: 0, Want: 1, Len: len(raw)}
	}
	buf := raw[1:] // fsl_version byte, unused by table decode

	seen := make(map[string]bool)
	var tables []Table
	tblNum := 0

	for len(buf) > 0 {
		entryStart := len(raw) - len(buf)

		name, n, err := pakbus.VarLenString(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		tblNum++

		if len(buf) < 4+1+8+8 {
			return nil, &pakbus.ParseError{Offset: 0, Want: 21, Len: len(buf)}
		}
		size, err := pakbus.DeserializeBE(buf[:4], 4)
		if err != nil {
			return nil, err
		}
		buf = buf[4:]

		timeType := buf[0]
		buf = buf[1:]

		timeInfo, err := parseNSec(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[8:]

		timeInterval, err := parseNSec(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[8:]

		fields, rest, err := parseFieldList(buf)
		if err != nil {
			return nil, err
		}
		buf = rest
		entryEnd := len(raw) - len(buf)

		if name == "" {
			continue // empty-named table entries are skipped silently
		}
		if seen[name] {
			continue // duplicate table names: keep first occurrence
		}
		seen[name] = true

		tables = append(tables, Table{
			Name:         name,
			Num:          tblNum,
			Size:         size,
			TimeType:     timeType,
			TimeInfo:     timeInfo,
			TimeInterval: timeInterval,
			Fields:       fields,
			Signature:    pakbus.CalcSig(raw[entryStart:entryEnd], 0xAAAA),
		})
	}

	return tables, nil
}

func parseNSec(buf []byte) (NSec, error) {
	if len(buf) < 8 {
		return NSec{}, &pakbus.ParseError{Offset: 0, Want: 8, Len: len(buf)}
	}
	sec, err := pakbus.DeserializeBE(buf[0:4], 4)
	if err != nil {
		return NSec{}, err
	}
	nsec, err := pakbus.DeserializeBE(buf[4:8], 4)
	if err != nil {
		return NSec{}, err
	}
	return NSec{Sec: sec, Nsec: nsec}, nil
}

// parseFieldList reads a NUL-terminated field list (the table-level
// terminator is a single 0x00 type byte with no trailing name) and returns
// the remaining, unconsumed buffer.
func parseFieldList(buf []byte) ([]Field, []byte, error) {
	var fields []Field
	for {
		if len(buf) < 1 {
			return nil, nil, &pakbus.ParseError{Offset: 0, Want: 1, Len: len(buf)}
		}
		typeByte := buf[0]
		if typeByte == 0x00 {
			buf = buf[1:]
			break
		}
		buf = buf[1:]

		name, n, err := pakbus.VarLenString(buf)
		if err != nil {
			return nil, nil, err
		}
		buf = buf[n:]

		if len(buf) < 1 {
			return nil, nil, &pakbus.ParseError{Offset: 0, Want: 1, Len: len(buf)}
		}
		buf = buf[1:] // namelist terminator, distinct from name's own vstr terminator

		processing, n, err := pakbus.VarLenString(buf)
		if err != nil {
			return nil, nil, err
		}
		buf = buf[n:]

		unit, n, err := pakbus.VarLenString(buf)
		if err != nil {
			return nil, nil, err
		}
		buf = buf[n:]

		description, n, err := pakbus.VarLenString(buf)
		if err != nil {
			return nil, nil, err
		}
		buf = buf[n:]

		if len(buf) < 8 {
			return nil, nil, &pakbus.ParseError{Offset: 0, Want: 8, Len: len(buf)}
		}
		begIdx, err := pakbus.DeserializeBE(buf[0:4], 4)
		if err != nil {
			return nil, nil, err
		}
		dimension, err := pakbus.DeserializeBE(buf[4:8], 4)
		if err != nil {
			return nil, nil, err
		}
		buf = buf[8:]

		var subDim []uint32
		for {
			if len(buf) < 4 {
				return nil, nil, &pakbus.ParseError{Offset: 0, Want: 4, Len: len(buf)}
			}
			v, err := pakbus.DeserializeBE(buf[:4], 4)
			if err != nil {
				return nil, nil, err
			}
			buf = buf[4:]
			if v == 0 {
				break
			}
			subDim = append(subDim, v)
		}

		fields = append(fields, Field{
			FieldType:   typeByte & fieldTypeReadableMask,
			Name:        name,
			Processing:  processing,
			Unit:        unit,
			Description: description,
			BegIdx:      begIdx,
			Dimension:   dimension,
			SubDim:      subDim,
		})
	}
	return fields, buf, nil
}

