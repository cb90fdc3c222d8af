package collector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvello/pbcdlcomm/clog"
	"github.com/kvello/pbcdlcomm/datamgr"
	"github.com/kvello/pbcdlcomm/pakbus"
	"github.com/stretchr/testify/require"
)

// The BMP5 response codes below (0x89/0x97/0x98/0x9d) mirror the unexported
// message-type constants in package bmp5; this test plays the role of the
// datalogger, so it has to speak the same wire codes bmp5 expects back.
const (
	helloRespCode      = 0x89
	clockRespCode      = 0x97
	progStatsRespCode  = 0x98
	fileRecvRespCode   = 0x9d
	collectDataRespOK  = 0x89
	collectDataInvalid = 0xa9
)

type fakeConn struct {
	*bytes.Buffer
}

func (c fakeConn) Close() error { return nil }

type fixedDialer struct {
	conn        io.ReadWriteCloser
	retryOnFail bool
}

func (d *fixedDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) { return d.conn, nil }
func (d *fixedDialer) RetryOnFail() bool                                   { return d.retryOnFail }

func addrHeader(tran byte) []byte {
	return []byte{0, 0, 0, 0, tran}
}

func queueFrame(buf *bytes.Buffer, tran byte, body []byte) {
	full := append(append([]byte{}, addrHeader(tran)...), body...)
	buf.Write(pakbus.Frame(full))
}

func varLenString(s string) []byte { return append([]byte(s), 0x00) }

func buildMinimalTDF(tableName, fieldName string) []byte {
	field := []byte{1} // field type 1: 1-byte unsigned
	field = append(field, varLenString(fieldName)...)
	field = append(field, 0x00) // namelist terminator
	field = append(field, varLenString("Smp")...)
	field = append(field, varLenString("Volts")...)
	field = append(field, varLenString("")...)
	field = append(field, pakbus.SerializeBE(0, 4)...) // beg_idx
	field = append(field, pakbus.SerializeBE(1, 4)...) // dimension
	field = append(field, pakbus.SerializeBE(0, 4)...) // sub_dim terminator

	table := varLenString(tableName)
	table = append(table, pakbus.SerializeBE(10, 4)...) // size
	table = append(table, 0)                            // time_type
	table = append(table, pakbus.SerializeBE(0, 4)...)  // time_info sec
	table = append(table, pakbus.SerializeBE(0, 4)...)  // time_info nsec
	table = append(table, pakbus.SerializeBE(1, 4)...)  // time_interval sec
	table = append(table, pakbus.SerializeBE(0, 4)...)  // time_interval nsec
	table = append(table, field...)
	table = append(table, 0x00) // field-list terminator

	return append([]byte{0x01}, table...) // fsl_version + table
}

func queueHandshake(buf *bytes.Buffer) {
	resp := []byte{helloRespCode, 0, 1}
	resp = append(resp, pakbus.SerializeBE(60, 2)...)
	buf.Write(pakbus.Frame(resp))
}

func queueRing(buf *bytes.Buffer) {
	buf.Write(pakbus.Frame([]byte{pakbus.PakCtrlReady}))
}

func queueFinished(buf *bytes.Buffer) {
	buf.Write(pakbus.Frame([]byte{pakbus.PakCtrlFinishedResp}))
}

func queueClockRead(buf *bytes.Buffer, tran byte, sec uint32) {
	resp := []byte{clockRespCode}
	resp = append(resp, pakbus.SerializeBE(sec, 4)...)
	resp = append(resp, pakbus.SerializeBE(0, 4)...)
	queueFrame(buf, tran, resp)
}

func queueFileReceive(buf *bytes.Buffer, startTran byte, raw []byte) byte {
	tran := startTran
	resp := append([]byte{fileRecvRespCode, 0}, pakbus.SerializeBE(0, 4)...)
	resp = append(resp, raw...)
	queueFrame(buf, tran, resp)
	tran++

	end := append([]byte{fileRecvRespCode, 0}, pakbus.SerializeBE(1, 4)...)
	queueFrame(buf, tran, end)
	tran++
	return tran
}

func queueProgStats(buf *bytes.Buffer, tran byte) byte {
	resp := []byte{progStatsRespCode}
	resp = append(resp, varLenString("CR1000.Std.30")...)
	resp = append(resp, pakbus.SerializeBE(0x1111, 2)...)
	resp = append(resp, varLenString("12345")...)
	resp = append(resp, varLenString("PowerUp.CR1")...)
	resp = append(resp, varLenString("Prog.CR1")...)
	resp = append(resp, pakbus.SerializeBE(0x2222, 2)...)
	queueFrame(buf, tran, resp)
	return tran + 1
}

func queueCollectDataOneRecord(buf *bytes.Buffer, tran byte) byte {
	resp := []byte{collectDataRespOK, 0} // no more records
	resp = append(resp, pakbus.SerializeBE(500, 4)...)
	resp = append(resp, pakbus.SerializeBE(0, 4)...)
	resp = append(resp, 42) // one field, type 1, value 42
	queueFrame(buf, tran, resp)
	return tran + 1
}

func newTestProcess(t *testing.T, buf *bytes.Buffer, workingDir string) *Process {
	t.Helper()
	dialer := &fixedDialer{conn: fakeConn{buf}}
	log := clog.NewLogger("test")
	log.LogMode(true)

	mgr := datamgr.NewManager(datamgr.DataOutputConfig{
		WorkingPath: workingDir,
		StationName: "Station1",
		LoggerType:  "CR1000",
	}, datamgr.NewTOA5Writer(workingDir, ""))

	return New(Config{
		Dialer:      dialer,
		Addr:        pakbus.Addr{SrcNode: 1, DstNode: 2},
		ReadTimeout: time.Second,
		Manager:     mgr,
		Log:         log,
	})
}

func TestRunCollectsOneTableEndToEnd(t *testing.T) {
	dir := t.TempDir()
	buf := &bytes.Buffer{}

	queueHandshake(buf)
	queueRing(buf)
	queueClockRead(buf, 1, uint32(time.Now().Unix()-631_152_000))
	tran := queueFileReceive(buf, 2, buildMinimalTDF("Public", "Batt_Volt"))
	tran = queueProgStats(buf, tran)
	queueFinished(buf)
	tran = queueCollectDataOneRecord(buf, tran)
	_ = tran

	proc := newTestProcess(t, buf, dir)

	// The agent keeps polling forever, sleeping smallest_table_interval
	// (1s, from the TDF's table time_interval) between cycles; bound the
	// test to exactly one successful cycle with a deadline shorter than
	// that sleep.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := proc.Run(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded) || err == nil)

	data, err := os.ReadFile(filepath.Join(dir, "Public.raw"))
	require.NoError(t, err)
	require.Contains(t, string(data), "Batt_Volt")
	require.Contains(t, string(data), "42")
}
