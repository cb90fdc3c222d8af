// Package datamgr owns the collector's table list and, per table, the
// writer responsible for persisting decoded records.
package datamgr

import (
	"fmt"

	"github.com/kvello/pbcdlcomm/record"
	"github.com/kvello/pbcdlcomm/tdf"
)

// DLProgStats mirrors bmp5.DLProgStats; datamgr doesn't import bmp5 to
// avoid a cycle (bmp5 is a pure transaction layer and never needs a
// writer), so the collector copies the fetched stats in here.
type DLProgStats struct {
	OSVer     string
	OSSig     uint16
	SerialNbr string
	PowUpProg string
	ProgName  string
	ProgSig   uint16
}

// TableOpt is one table's configured collection options.
type TableOpt struct {
	TableName string
	TableSpan int
	SampleInt int
}

// DataOutputConfig configures where and how output is written.
type DataOutputConfig struct {
	WorkingPath string
	StationName string
	LoggerType  string
	Tables      []TableOpt
	Separator   string
}

// HeaderContext is the immutable subset of station/program metadata a
// writer needs to print a TOA5 header. It's passed by value rather than
// through a back-pointer to the owning manager, so a writer never
// outlives (or depends on the lifetime of) its manager.
type HeaderContext struct {
	StationName string
	LoggerType  string
	AppName     string
	AppVersion  string
	Stats       DLProgStats
}

// Writer is the capability interface a persistence backend implements.
// Manager drives it through exactly this call sequence per table, once
// per collection pass: InitWrite, then ProcessRecordBegin/store*/
// ProcessRecordEnd per record, then FinishWrite.
type Writer interface {
	InitWrite(tbl *tdf.Table, hdr HeaderContext) error
	ProcessRecordBegin(tbl *tdf.Table, recordNum uint32, recordTime tdf.NSec) error
	StoreValue(f tdf.Field, v record.Value) error
	ProcessRecordEnd(tbl *tdf.Table) error
	FinishWrite(tbl *tdf.Table) error
}

// Manager owns the table list and one writer per table, keyed by table
// name. It never exposes a back-pointer to writers; ownership flows only
// manager -> table -> writer.
type Manager struct {
	config DataOutputConfig
	stats  DLProgStats
	tables []tdf.Table
	byName map[string]int
	writer func(tbl *tdf.Table) (Writer, error)
	active map[string]Writer
}

// NewManager builds a Manager that constructs one newWriter per table on
// first use.
func NewManager(config DataOutputConfig, newWriter func(tbl *tdf.Table) (Writer, error)) *Manager {
	return &Manager{
		config: config,
		byName: make(map[string]int),
		writer: newWriter,
		active: make(map[string]Writer),
	}
}

// SetProgStats records the programming statistics used in table headers.
func (m *Manager) SetProgStats(stats DLProgStats) {
	m.stats = stats
}

// LoadTables replaces the manager's table list, e.g. after a TDF reload.
// Tables not present in tbls are dropped along with their writer state;
// tables present in both keep their cursor fields (LastRecordTime,
// NextRecordNumber) from the previous list so a mid-session TDF reload
// doesn't lose collection progress.
func (m *Manager) LoadTables(tbls []tdf.Table) {
	prevByName := m.byName
	prevTables := m.tables

	m.tables = tbls
	m.byName = make(map[string]int, len(tbls))
	for i, t := range tbls {
		m.byName[t.Name] = i
		if prevIdx, ok := prevByName[t.Name]; ok {
			m.tables[i].LastRecordTime = prevTables[prevIdx].LastRecordTime
			m.tables[i].NextRecordNumber = prevTables[prevIdx].NextRecordNumber
			m.tables[i].HeaderSent = prevTables[prevIdx].HeaderSent
		}
	}
}

// Tables returns the current table list, in TDF order.
func (m *Manager) Tables() []tdf.Table {
	return m.tables
}

// CollectionTables returns the subset of Tables that the configuration
// asks to be collected, in configured order. When no tables are
// configured, every table the TDF exposes is collected (preserves the
// behavior of a bare device probe / test fixture with no table list).
func (m *Manager) CollectionTables() []tdf.Table {
	if len(m.config.Tables) == 0 {
		return m.tables
	}
	out := make([]tdf.Table, 0, len(m.config.Tables))
	for _, opt := range m.config.Tables {
		if idx, ok := m.byName[opt.TableName]; ok {
			out = append(out, m.tables[idx])
		}
	}
	return out
}

// SmallestSampleInterval returns the smallest configured table sample
// interval, in seconds, across the configured table list. When no table
// declares a positive sample interval, it falls back to the smallest
// TblTimeInterval reported by the TDF itself across Tables(). fallback is
// returned if neither source yields a usable value.
func (m *Manager) SmallestSampleInterval(fallback int) int {
	smallest := 0
	for _, opt := range m.config.Tables {
		if opt.SampleInt <= 0 {
			continue
		}
		if smallest == 0 || opt.SampleInt < smallest {
			smallest = opt.SampleInt
		}
	}
	if smallest > 0 {
		return smallest
	}

	for _, t := range m.tables {
		sec := int(t.TimeInterval.Sec)
		if sec <= 0 {
			continue
		}
		if smallest == 0 || sec < smallest {
			smallest = sec
		}
	}
	if smallest > 0 {
		return smallest
	}
	return fallback
}

// TableByName returns a pointer into the manager's table slice so the
// collection loop can mutate cursor state in place.
func (m *Manager) TableByName(name string) (*tdf.Table, error) {
	idx, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("datamgr: no table definition for %q", name)
	}
	return &m.tables[idx], nil
}

// writerFor returns (creating if necessary) the writer for tbl.
func (m *Manager) writerFor(tbl *tdf.Table) (Writer, error) {
	if w, ok := m.active[tbl.Name]; ok {
		return w, nil
	}
	w, err := m.writer(tbl)
	if err != nil {
		return nil, err
	}
	m.active[tbl.Name] = w
	return w, nil
}

// HeaderContext builds the header metadata for the current configuration
// and fetched programming statistics.
func (m *Manager) HeaderContext(appName, appVersion string) HeaderContext {
	return HeaderContext{
		StationName: m.config.StationName,
		LoggerType:  m.config.LoggerType,
		AppName:     appName,
		AppVersion:  appVersion,
		Stats:       m.stats,
	}
}

// RecordSize returns the fixed per-record byte size of tbl (excluding the
// 8-byte timestamp prefix), or -1 if any field has unknown size (a
// variable-length string field, type 16).
func RecordSize(tbl tdf.Table) int {
	total := 0
	for _, f := range tbl.Fields {
		size := record.FieldSize(f)
		if size < 0 {
			return -1
		}
		if f.FieldType != 11 {
			size *= int(f.Dimension)
		}
		total += size
	}
	return total
}

// InitWrite starts a collection pass for tbl: gets (creating if needed)
// its writer and calls InitWrite on it.
func (m *Manager) InitWrite(tbl *tdf.Table, appName, appVersion string) error {
	w, err := m.writerFor(tbl)
	if err != nil {
		return err
	}
	return w.InitWrite(tbl, m.HeaderContext(appName, appVersion))
}

// FinishWrite ends a collection pass for tbl.
func (m *Manager) FinishWrite(tbl *tdf.Table) error {
	w, err := m.writerFor(tbl)
	if err != nil {
		return err
	}
	return w.FinishWrite(tbl)
}

// Writer returns the active writer for tbl, for use by the record-decode
// loop driving ProcessRecordBegin/StoreValue/ProcessRecordEnd.
func (m *Manager) Writer(tbl *tdf.Table) (Writer, error) {
	return m.writerFor(tbl)
}
