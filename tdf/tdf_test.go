package tdf

import (
	"testing"

	"github.com/kvello/pbcdlcomm/pakbus"
	"github.com/stretchr/testify/require"
)

func varLenString(s string) []byte {
	return append([]byte(s), 0x00)
}

func nsecBytes(sec, nsec uint32) []byte {
	b := pakbus.SerializeBE(sec, 4)
	return append(b, pakbus.SerializeBE(nsec, 4)...)
}

func buildField(typeByte byte, name, processing, unit, description string, begIdx, dimension uint32, subDim []uint32) []byte {
	b := []byte{typeByte}
	b = append(b, varLenString(name)...)
	b = append(b, 0x00) // namelist terminator
	b = append(b, varLenString(processing)...)
	b = append(b, varLenString(unit)...)
	b = append(b, varLenString(description)...)
	b = append(b, pakbus.SerializeBE(begIdx, 4)...)
	b = append(b, pakbus.SerializeBE(dimension, 4)...)
	for _, v := range subDim {
		b = append(b, pakbus.SerializeBE(v, 4)...)
	}
	b = append(b, pakbus.SerializeBE(0, 4)...) // sub_dim terminator
	return b
}

func buildTable(name string, size uint32, timeType byte, fieldBlocks ...[]byte) []byte {
	b := varLenString(name)
	b = append(b, pakbus.SerializeBE(size, 4)...)
	b = append(b, timeType)
	b = append(b, nsecBytes(0, 0)...)
	b = append(b, nsecBytes(1, 0)...)
	for _, f := range fieldBlocks {
		b = append(b, f...)
	}
	b = append(b, 0x00) // field-list terminator
	return b
}

func buildTDF(tables ...[]byte) []byte {
	raw := []byte{0x01} // fsl_version
	for _, t := range tables {
		raw = append(raw, t...)
	}
	return raw
}

func TestParseSingleTableWithOneField(t *testing.T) {
	field := buildField(1, "Batt_Volt", "Smp", "Volts", "Battery voltage", 1, 1, nil)
	raw := buildTDF(buildTable("Public", 100, 0, field))

	tables, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, "Public", tables[0].Name)
	require.Equal(t, 1, tables[0].Num)
	require.Len(t, tables[0].Fields, 1)
	require.Equal(t, "Batt_Volt", tables[0].Fields[0].Name)
	require.Equal(t, byte(1), tables[0].Fields[0].FieldType)
}

func TestParseStripsReadableFlagBit(t *testing.T) {
	field := buildField(0x81, "X", "", "", "", 0, 1, nil)
	raw := buildTDF(buildTable("T", 10, 0, field))

	tables, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, byte(1), tables[0].Fields[0].FieldType)
}

func TestParseSkipsEmptyNamedTable(t *testing.T) {
	field := buildField(1, "X", "", "", "", 0, 1, nil)
	empty := buildTable("", 10, 0, field)
	named := buildTable("Real", 10, 0, field)
	raw := buildTDF(empty, named)

	tables, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, "Real", tables[0].Name)
	require.Equal(t, 2, tables[0].Num)
}

func TestParseKeepsFirstDuplicateTableName(t *testing.T) {
	field1 := buildField(1, "A", "", "", "", 0, 1, nil)
	field2 := buildField(2, "B", "", "", "", 0, 1, nil)
	raw := buildTDF(buildTable("Dup", 10, 0, field1), buildTable("Dup", 20, 0, field2))

	tables, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, uint32(10), tables[0].Size)
}

func TestParseComputesDistinctSignaturesPerTable(t *testing.T) {
	field := buildField(1, "X", "", "", "", 0, 1, nil)
	raw := buildTDF(buildTable("A", 10, 0, field), buildTable("B", 20, 0, field))

	tables, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	require.NotEqual(t, tables[0].Signature, tables[1].Signature)
}

func TestParseSignatureUnaffectedBySkippedEntries(t *testing.T) {
	field := buildField(1, "X", "", "", "", 0, 1, nil)
	withSkip := buildTDF(buildTable("", 99, 0, field), buildTable("Keep", 10, 0, field))
	withoutSkip := buildTDF(buildTable("Keep", 10, 0, field))

	tablesA, err := Parse(withSkip)
	require.NoError(t, err)
	tablesB, err := Parse(withoutSkip)
	require.NoError(t, err)

	require.Equal(t, tablesB[0].Signature, tablesA[0].Signature)
}

func TestParseRejectsTruncatedInput(t *testing.T) {
	_, err := Parse([]byte{0x01, 0x41, 0x00})
	require.Error(t, err)
}

func TestParseSubDimensions(t *testing.T) {
	field := buildField(1, "Matrix", "", "", "", 0, 6, []uint32{2, 3})
	raw := buildTDF(buildTable("T", 10, 0, field))

	tables, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, []uint32{2, 3}, tables[0].Fields[0].SubDim)
}

func TestNSecAddCarriesOverflow(t *testing.T) {
	a := NSec{Sec: 1, Nsec: 900_000_000}
	b := NSec{Sec: 0, Nsec: 200_000_000}
	sum := a.Add(b)
	require.Equal(t, uint32(2), sum.Sec)
	require.Equal(t, uint32(100_000_000), sum.Nsec)
}

func TestNSecCompare(t *testing.T) {
	require.Equal(t, -1, NSec{Sec: 1, Nsec: 0}.Compare(NSec{Sec: 2, Nsec: 0}))
	require.Equal(t, 1, NSec{Sec: 2, Nsec: 5}.Compare(NSec{Sec: 2, Nsec: 1}))
	require.Equal(t, 0, NSec{Sec: 1, Nsec: 1}.Compare(NSec{Sec: 1, Nsec: 1}))
}
