package datamgr

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kvello/pbcdlcomm/record"
	"github.com/kvello/pbcdlcomm/tdf"
)

// secsBefore1990 converts an NSec (seconds since 1990-01-01T00:00:00 UTC)
// to a Unix timestamp.
const secsBefore1990 = 631_152_000

const defaultSeparator = ", "

// TOA5Writer appends delimited-text records to {working_path}/{table}.raw,
// writing a TOA5-style four-line header exactly once per file lifetime and
// recovering its record cursor from an existing file on its first
// InitWrite.
type TOA5Writer struct {
	path      string
	separator string

	f   *os.File
	buf *bufio.Writer

	headerWritten bool
}

// NewTOA5Writer returns a writer factory bound to workingPath and
// separator, suitable for passing to NewManager.
func NewTOA5Writer(workingPath, separator string) func(tbl *tdf.Table) (Writer, error) {
	if separator == "" {
		separator = defaultSeparator
	}
	return func(tbl *tdf.Table) (Writer, error) {
		path := filepath.Join(workingPath, tbl.Name+".raw")
		return &TOA5Writer{path: path, separator: separator}, nil
	}
}

// InitWrite decides, on first use, whether to append (header matches,
// cursor recovered from the last line) or truncate (no prior file, header
// mismatch, or a malformed last line).
func (w *TOA5Writer) InitWrite(tbl *tdf.Table, hdr HeaderContext) error {
	if w.f != nil {
		return nil // already opened by a prior collection pass this process
	}

	wantHeader := renderHeader(tbl, hdr)

	existing, lastLine, err := readExistingHeaderAndLastLine(w.path)
	if err == nil && existing == strings.Join(wantHeader[:], "\n") {
		f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		w.f = f
		w.buf = bufio.NewWriter(f)
		w.headerWritten = true
		if next, ok := recoverNextRecordNumber(lastLine); ok {
			tbl.NextRecordNumber = next
		}
		return nil
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.buf = bufio.NewWriter(f)
	return w.writeHeader(tbl, hdr)
}

// readExistingHeaderAndLastLine returns the file's first four lines (the
// header, joined with "\n") and its last non-blank line.
func readExistingHeaderAndLastLine(path string) (header, lastLine string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var head []string
	for scanner.Scan() {
		line := scanner.Text()
		if len(head) < 4 {
			head = append(head, line)
		}
		if strings.TrimSpace(line) != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	if len(head) == 0 {
		return "", "", fmt.Errorf("datamgr: empty file")
	}
	return strings.Join(head, "\n"), lastLine, nil
}

func recoverNextRecordNumber(lastLine string) (uint32, bool) {
	fields := strings.SplitN(lastLine, ",", 3)
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n) + 1, true
}

func (w *TOA5Writer) writeHeader(tbl *tdf.Table, hdr HeaderContext) error {
	for _, line := range renderHeader(tbl, hdr) {
		if _, err := w.buf.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	w.headerWritten = true
	tbl.HeaderSent = true
	return w.buf.Flush()
}

func renderHeader(tbl *tdf.Table, hdr HeaderContext) [4]string {
	return [4]string{
		renderHeaderLine1(tbl, hdr),
		renderFieldLine(`"TIMESTAMP","RECORD",`, tbl.Fields, 1),
		renderFieldLine(`"TS","RN",`, tbl.Fields, 2),
		renderFieldLine(`"","",`, tbl.Fields, 3),
	}
}

func renderHeaderLine1(tbl *tdf.Table, hdr HeaderContext) string {
	return fmt.Sprintf(`"TOA5","%s","%s","%s","%s","%s","%d","%s","%s-%s"`,
		hdr.StationName, hdr.LoggerType, hdr.Stats.SerialNbr, hdr.Stats.OSVer,
		hdr.Stats.ProgName, hdr.Stats.ProgSig, tbl.Name, hdr.AppName, hdr.AppVersion)
}

// renderFieldLine renders one of the three per-field header lines
// (names/units/processing tags), expanding array fields (dimension > 1,
// type != 11/16) into one column per element.
func renderFieldLine(prefix string, fields []tdf.Field, infoType int) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, f := range fields {
		if f.Dimension > 1 && f.FieldType != 11 && f.FieldType != 16 {
			for dim := 1; dim <= int(f.Dimension); dim++ {
				b.WriteString(fieldProperty(f, infoType, dim))
			}
		} else {
			b.WriteString(fieldProperty(f, infoType, 0))
		}
	}
	return b.String()
}

func fieldProperty(f tdf.Field, infoType, dim int) string {
	switch infoType {
	case 1:
		if dim > 0 {
			return fmt.Sprintf(`"%s(%d)",`, f.Name, dim)
		}
		return fmt.Sprintf(`"%s",`, f.Name)
	case 2:
		return fmt.Sprintf(`"%s",`, f.Unit)
	case 3:
		return fmt.Sprintf(`"%s",`, f.Processing)
	default:
		return ""
	}
}

// ProcessRecordBegin writes the timestamp and record-number prefix for one
// record.
func (w *TOA5Writer) ProcessRecordBegin(tbl *tdf.Table, recordNum uint32, recordTime tdf.NSec) error {
	ts := formatTimestamp(recordTime)
	_, err := fmt.Fprintf(w.buf, "%s%s%d", ts, w.separator, recordNum)
	return err
}

func formatTimestamp(t tdf.NSec) string {
	unix := int64(t.Sec) + secsBefore1990
	ms := t.Nsec / 1_000_000
	ut := time.Unix(unix, 0).UTC()
	return fmt.Sprintf(`"%04d-%02d-%02d %02d:%02d:%02d.%03d"`,
		ut.Year(), ut.Month(), ut.Day(), ut.Hour(), ut.Minute(), ut.Second(), ms)
}

// StoreValue writes one field value's separator-prefixed cell.
func (w *TOA5Writer) StoreValue(f tdf.Field, v record.Value) error {
	var cell string
	switch v.Kind {
	case record.KindString:
		cell = fmt.Sprintf("%q", v.Str)
	default:
		cell = v.String()
	}
	_, err := fmt.Fprintf(w.buf, "%s%s", w.separator, cell)
	return err
}

// ProcessRecordEnd terminates the current record's line.
func (w *TOA5Writer) ProcessRecordEnd(tbl *tdf.Table) error {
	_, err := w.buf.WriteString("\n")
	return err
}

// FinishWrite flushes buffered output. It does not close the underlying
// file: the writer may be reused for the next collection pass in the same
// process.
func (w *TOA5Writer) FinishWrite(tbl *tdf.Table) error {
	return w.buf.Flush()
}
