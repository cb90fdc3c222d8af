// Package collector drives the per-session collection loop: establishing
// a PakBus session, checking and correcting the logger clock, fetching
// table definitions, and collecting records table by table with
// mid-session TDF-invalidation recovery.
package collector

import (
	"context"
	"io"
	"time"

	"github.com/kvello/pbcdlcomm/bmp5"
	"github.com/kvello/pbcdlcomm/clog"
	"github.com/kvello/pbcdlcomm/datamgr"
	"github.com/kvello/pbcdlcomm/metrics"
	"github.com/kvello/pbcdlcomm/pakbus"
	"github.com/kvello/pbcdlcomm/record"
	"github.com/kvello/pbcdlcomm/tdf"
)

// AppName and AppVersion are stamped into every TOA5 header.
const (
	AppName    = "PbCdlComm"
	AppVersion = "2.0.0"
)

// MaxTimeOffset is the largest logger/host clock disagreement, in seconds,
// tolerated without issuing a clock-set transaction.
const MaxTimeOffset = 10

// TDFFileName is the well-known name of the table-definition file every
// supported datalogger exposes via FileReceive.
const TDFFileName = ".TDF"

// Dialer opens the byte-oriented duplex channel to the datalogger. The
// core never manages the transport directly (serial port, TCP socket);
// it only consumes the io.ReadWriteCloser Dialer hands back.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	RetryOnFail() bool
}

// Process owns one collection agent's full session lifecycle.
type Process struct {
	dialer      Dialer
	addr        pakbus.Addr
	readTimeout time.Duration
	hexTraceDir string

	mgr *datamgr.Manager
	log clog.Clog

	fr            *pakbus.IOBuf
	bmp5Session   *bmp5.Session
	hasTableSpec  bool
	timeCheckDone bool
	conn          io.ReadWriteCloser
}

// Config collects the constructor parameters for a Process.
type Config struct {
	Dialer      Dialer
	Addr        pakbus.Addr
	ReadTimeout time.Duration
	HexTraceDir string
	Manager     *datamgr.Manager
	Log         clog.Clog
}

// New builds a Process ready to Run.
func New(cfg Config) *Process {
	return &Process{
		dialer:      cfg.Dialer,
		addr:        cfg.Addr,
		readTimeout: cfg.ReadTimeout,
		hexTraceDir: cfg.HexTraceDir,
		mgr:         cfg.Manager,
		log:         cfg.Log,
	}
}

// defaultSampleInterval is the sleep used between collection cycles when
// neither the configuration nor the device's TDF declares a usable
// per-table sample interval.
const defaultSampleInterval = 60 * time.Second

// Run is the collection agent's top-level loop: it repeats
// initSession->collect->closeSession forever, sleeping
// smallest_table_interval between successful cycles, until ctx is
// cancelled or a session exhausts its retries without dialer.RetryOnFail.
func (p *Process) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.runOnce(ctx); err != nil {
			return err
		}
		metrics.SecondsSinceLastSuccess.Set(0)

		interval := defaultSampleInterval
		if p.mgr != nil {
			interval = time.Duration(p.mgr.SmallestSampleInterval(int(defaultSampleInterval/time.Second))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// runOnce retries a single initSession->collect->closeSession cycle
// according to dialer.RetryOnFail while ctx remains uncancelled. It
// returns nil on a successful cycle, or the last error once retries are
// exhausted or a comm failure aborts the whole run.
func (p *Process) runOnce(ctx context.Context) error {
	var lastErr error
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := p.attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if _, isComm := err.(*pakbus.CommError); isComm {
			metrics.SessionFailures.WithLabelValues("comm").Inc()
			return err // link failures abort the whole run, not just the attempt
		}
		if isStorageError(err) {
			metrics.SessionFailures.WithLabelValues("storage").Inc()
		} else {
			metrics.SessionFailures.WithLabelValues("app").Inc()
		}
		if !p.dialer.RetryOnFail() {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// attempt runs exactly one initSession -> collect -> closeSession cycle.
func (p *Process) attempt(ctx context.Context) error {
	if err := p.initSession(ctx); err != nil {
		if p.conn != nil {
			p.conn.Close()
			p.conn = nil
		}
		return err
	}
	defer p.closeSession()

	return p.collect(ctx)
}

// initSession dials the transport, performs the PakCtrl handshake, and (on
// first use this process) checks the logger clock and fetches table
// definitions.
func (p *Process) initSession(ctx context.Context) error {
	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		return pakbus.NewCommError("dial", err)
	}
	p.conn = conn

	p.fr = pakbus.NewIOBuf(conn, p.readTimeout)
	if p.hexTraceDir != "" {
		if err := p.fr.SetHexLogDir(p.hexTraceDir); err != nil {
			p.log.Warn("failed to open hex trace dir %q: %v", p.hexTraceDir, err)
		}
	}

	if _, err := pakbus.Handshake(p.fr, pakbus.HelloReq{VerifyIntvl: 60}, 3, p.log); err != nil {
		return err
	}
	if err := pakbus.RingHandshake(p.fr, 3, p.log); err != nil {
		return err
	}

	p.bmp5Session = bmp5.NewSession(p.fr, p.addr, 3, p.log)

	if !p.hasTableSpec {
		if err := p.checkLoggerTime(); err != nil {
			_ = pakbus.FinishedHandshake(p.fr, 3, p.log)
			return err
		}
		if err := p.loadTableDefinitions(); err != nil {
			_ = pakbus.FinishedHandshake(p.fr, 3, p.log)
			return err
		}
		p.hasTableSpec = true
	}

	return pakbus.FinishedHandshake(p.fr, 3, p.log)
}

func (p *Process) loadTableDefinitions() error {
	raw, err := p.bmp5Session.FileReceive(TDFFileName, 0)
	if err != nil {
		return err
	}
	tables, err := tdf.Parse(raw)
	if err != nil {
		return &bmp5.AppError{Op: "parse-tdf", Err: err}
	}
	p.mgr.LoadTables(tables)

	stats, err := p.bmp5Session.GetProgStats()
	if err != nil {
		return err
	}
	p.mgr.SetProgStats(datamgr.DLProgStats{
		OSVer:     stats.OSVer,
		OSSig:     stats.OSSig,
		SerialNbr: stats.SerialNbr,
		PowUpProg: stats.PowUpProg,
		ProgName:  stats.ProgName,
		ProgSig:   stats.ProgSig,
	})
	return nil
}

// checkLoggerTime reads the device clock once per process lifetime and
// corrects it if the host/device disagreement exceeds MaxTimeOffset.
func (p *Process) checkLoggerTime() error {
	if p.timeCheckDone {
		return nil
	}

	loggerSec, _, err := p.bmp5Session.Clock(0, 0)
	if err != nil {
		return err
	}

	hostNow := time.Now().UTC().Unix() - secsBefore1990
	offset := hostNow - int64(loggerSec)
	if offset < 0 {
		offset = -offset
	}

	if offset > MaxTimeOffset {
		p.log.Warn("logger clock offset %ds exceeds %ds, correcting", offset, MaxTimeOffset)
		if _, _, err := p.bmp5Session.Clock(int32(hostNow-int64(loggerSec)), 0); err != nil {
			return err
		}
		p.log.Warn("logger clock corrected")
	}

	p.timeCheckDone = true
	return nil
}

const secsBefore1990 = 631_152_000

// closeSession ends the BMP5/PakCtrl session and disconnects the
// transport. It never fails the attempt: teardown errors are logged only.
func (p *Process) closeSession() {
	if p.fr != nil {
		if err := pakbus.Finish(p.fr, 100*time.Millisecond); err != nil {
			p.log.Warn("bye failed: %v", err)
		}
		if err := p.fr.Close(); err != nil {
			p.log.Warn("closing hex trace failed: %v", err)
		}
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// collect walks every configured table, downloading and appending new
// records. A table-level *bmp5.InvalidTDFError triggers exactly one TDF
// reload and retry of that table within this call; if the reload itself
// fails, the whole session is aborted, and if the retry fails, the table
// is given up (logged) and the loop continues with the next table. A
// *bmp5.StorageError aborts the whole session. Other errors are logged and
// the loop continues with the next table.
func (p *Process) collect(ctx context.Context) error {
	dec := record.NewDecoder(p.log)

	for _, t := range p.mgr.CollectionTables() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.collectTable(t.Name, dec); err != nil {
			var invalidTDF *bmp5.InvalidTDFError
			if asInvalidTDF(err, &invalidTDF) {
				p.log.Warn("table %q: %v; reloading table definitions", t.Name, invalidTDF)
				if err := p.loadTableDefinitions(); err != nil {
					return err
				}
				if err := p.collectTable(t.Name, dec); err != nil {
					if isStorageError(err) {
						return err
					}
					p.log.Error("table %q: giving up after TDF reload: %v", t.Name, err)
				}
				continue
			}
			if isStorageError(err) {
				return err
			}
			p.log.Error("table %q: %v", t.Name, err)
		}
	}
	return nil
}

func asInvalidTDF(err error, target **bmp5.InvalidTDFError) bool {
	if e, ok := err.(*bmp5.InvalidTDFError); ok {
		*target = e
		return true
	}
	return false
}

func isStorageError(err error) bool {
	_, ok := err.(*bmp5.StorageError)
	return ok
}

// collectTable downloads and appends every record >= the table's current
// cursor, repeating CollectData until the device reports no more records.
// A failure to flush the table's writer at the end is reported as a
// *bmp5.StorageError unless an earlier error is already being returned.
func (p *Process) collectTable(name string, dec *record.Decoder) (err error) {
	tbl, err := p.mgr.TableByName(name)
	if err != nil {
		return &bmp5.AppError{Op: "collect-table", Err: err}
	}

	if err := p.mgr.InitWrite(tbl, AppName, AppVersion); err != nil {
		return &bmp5.StorageError{Op: "init-write", Err: err}
	}
	defer func() {
		if ferr := p.mgr.FinishWrite(tbl); ferr != nil && err == nil {
			err = &bmp5.StorageError{Op: "finish-write", Err: ferr}
		}
	}()

	w, err := p.mgr.Writer(tbl)
	if err != nil {
		return &bmp5.StorageError{Op: "writer", Err: err}
	}

	for {
		result, err := p.bmp5Session.CollectData(bmp5.AllFromRecord(tbl.Num, tbl.Signature, tbl.NextRecordNumber))
		if err != nil {
			return err
		}

		n, err := decodeAndStore(tbl, w, dec, result.Records)
		if err != nil {
			return &bmp5.StorageError{Op: "decode-record", Err: err}
		}
		tbl.NextRecordNumber += uint32(n)
		metrics.RecordsCollected.WithLabelValues(name).Add(float64(n))

		if !result.MoreRecords {
			return nil
		}
	}
}

// decodeAndStore decodes every record in buf (each an 8-byte NSec prefix
// followed by, per table.Fields, one sample for a string field of type 11
// or 16 and Dimension samples for any other field) and routes it to w.
// It returns the number of records decoded.
func decodeAndStore(tbl *tdf.Table, w datamgr.Writer, dec *record.Decoder, buf []byte) (int, error) {
	count := 0
	for len(buf) >= 8 {
		sec, err := pakbus.DeserializeBE(buf[0:4], 4)
		if err != nil {
			return count, err
		}
		nsec, err := pakbus.DeserializeBE(buf[4:8], 4)
		if err != nil {
			return count, err
		}
		recordTime := tdf.NSec{Sec: sec, Nsec: nsec}
		buf = buf[8:]

		recNum := tbl.NextRecordNumber + uint32(count)
		if err := w.ProcessRecordBegin(tbl, recNum, recordTime); err != nil {
			return count, err
		}

		for _, f := range tbl.Fields {
			samples := 1
			if f.FieldType != 11 && f.FieldType != 16 {
				samples = int(f.Dimension)
			}
			for s := 0; s < samples; s++ {
				v, n, err := dec.DecodeSample(f, buf)
				if err != nil {
					return count, err
				}
				buf = buf[n:]
				if err := w.StoreValue(f, v); err != nil {
					return count, err
				}
			}
		}

		if err := w.ProcessRecordEnd(tbl); err != nil {
			return count, err
		}
		tbl.LastRecordTime = recordTime
		count++
	}
	return count, nil
}
