package datamgr

import (
	"testing"

	"github.com/kvello/pbcdlcomm/record"
	"github.com/kvello/pbcdlcomm/tdf"
	"github.com/stretchr/testify/require"
)

func noopWriter(tbl *tdf.Table) (Writer, error) {
	return &stubWriter{}, nil
}

type stubWriter struct{}

func (s *stubWriter) InitWrite(tbl *tdf.Table, hdr HeaderContext) error            { return nil }
func (s *stubWriter) ProcessRecordBegin(tbl *tdf.Table, n uint32, t tdf.NSec) error { return nil }
func (s *stubWriter) StoreValue(f tdf.Field, v record.Value) error                 { return nil }
func (s *stubWriter) ProcessRecordEnd(tbl *tdf.Table) error                        { return nil }
func (s *stubWriter) FinishWrite(tbl *tdf.Table) error                             { return nil }

func TestLoadTablesPreservesCursorAcrossReload(t *testing.T) {
	m := NewManager(DataOutputConfig{}, noopWriter)

	m.LoadTables([]tdf.Table{
		{Name: "Public", NextRecordNumber: 5, HeaderSent: true, LastRecordTime: tdf.NSec{Sec: 100}},
		{Name: "Daily"},
	})

	// Reload with the same table, new field layout (different Num), a
	// dropped table, and a brand new table.
	m.LoadTables([]tdf.Table{
		{Name: "Public", Num: 3},
		{Name: "NewTable"},
	})

	tbl, err := m.TableByName("Public")
	require.NoError(t, err)
	require.Equal(t, uint32(5), tbl.NextRecordNumber)
	require.True(t, tbl.HeaderSent)
	require.Equal(t, tdf.NSec{Sec: 100}, tbl.LastRecordTime)
	require.Equal(t, 3, tbl.Num)

	_, err = m.TableByName("Daily")
	require.Error(t, err)

	newTbl, err := m.TableByName("NewTable")
	require.NoError(t, err)
	require.Equal(t, uint32(0), newTbl.NextRecordNumber)
}

func TestTableByNameUnknown(t *testing.T) {
	m := NewManager(DataOutputConfig{}, noopWriter)
	m.LoadTables([]tdf.Table{{Name: "Public"}})

	_, err := m.TableByName("Missing")
	require.Error(t, err)
}

func TestRecordSizeSumsFieldSizes(t *testing.T) {
	tbl := tdf.Table{
		Fields: []tdf.Field{
			{FieldType: 1, Dimension: 1}, // 1 byte
			{FieldType: 2, Dimension: 3}, // 2 bytes * 3
		},
	}
	require.Equal(t, 1+2*3, RecordSize(tbl))
}

func TestRecordSizeUnknownReturnsNegativeOne(t *testing.T) {
	tbl := tdf.Table{Fields: []tdf.Field{{FieldType: 16, Dimension: 1}}}
	require.Equal(t, -1, RecordSize(tbl))
}

func TestCollectionTablesFiltersAndOrdersByConfig(t *testing.T) {
	m := NewManager(DataOutputConfig{
		Tables: []TableOpt{{TableName: "Daily"}, {TableName: "Public"}},
	}, noopWriter)
	m.LoadTables([]tdf.Table{{Name: "Public"}, {Name: "Daily"}, {Name: "Hourly"}})

	got := m.CollectionTables()
	require.Len(t, got, 2)
	require.Equal(t, "Daily", got[0].Name)
	require.Equal(t, "Public", got[1].Name)
}

func TestCollectionTablesReturnsAllWhenUnconfigured(t *testing.T) {
	m := NewManager(DataOutputConfig{}, noopWriter)
	m.LoadTables([]tdf.Table{{Name: "Public"}, {Name: "Daily"}})

	require.Len(t, m.CollectionTables(), 2)
}

func TestSmallestSampleIntervalPrefersConfig(t *testing.T) {
	m := NewManager(DataOutputConfig{
		Tables: []TableOpt{{TableName: "Daily", SampleInt: 300}, {TableName: "Public", SampleInt: 60}},
	}, noopWriter)
	m.LoadTables([]tdf.Table{
		{Name: "Daily", TimeInterval: tdf.NSec{Sec: 86400}},
		{Name: "Public", TimeInterval: tdf.NSec{Sec: 5}},
	})

	require.Equal(t, 60, m.SmallestSampleInterval(999))
}

func TestSmallestSampleIntervalFallsBackToTDF(t *testing.T) {
	m := NewManager(DataOutputConfig{}, noopWriter)
	m.LoadTables([]tdf.Table{
		{Name: "Daily", TimeInterval: tdf.NSec{Sec: 86400}},
		{Name: "Public", TimeInterval: tdf.NSec{Sec: 5}},
	})

	require.Equal(t, 5, m.SmallestSampleInterval(999))
}

func TestSmallestSampleIntervalFallsBackToDefault(t *testing.T) {
	m := NewManager(DataOutputConfig{}, noopWriter)
	require.Equal(t, 999, m.SmallestSampleInterval(999))
}
