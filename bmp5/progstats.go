package bmp5

import "github.com/kvello/pbcdlcomm/pakbus"

// DLProgStats describes the datalogger's programming environment, fetched
// once per session via GetProgStats.
type DLProgStats struct {
	OSVer     string
	OSSig     uint16
	SerialNbr string
	PowUpProg string
	ProgName  string
	ProgSig   uint16
}

// GetProgStats fetches the device's programming statistics. Failure here
// is always transient: the response carries no meaningful partial state to
// recover, so the caller simply retries the whole session attempt.
func (s *Session) GetProgStats() (DLProgStats, error) {
	body := []byte{msgProgStatsReq}

	_, resp, err := s.roundTrip("get-prog-stats", body)
	if err != nil {
		return DLProgStats{}, err
	}
	if len(resp) < 1 || resp[0] != msgProgStatsResp {
		return DLProgStats{}, &AppError{Op: "get-prog-stats", Err: ErrTransient}
	}

	buf := resp[1:]
	var stats DLProgStats
	var n int

	stats.OSVer, n, err = pakbus.VarLenString(buf)
	if err != nil {
		return DLProgStats{}, &AppError{Op: "get-prog-stats", Err: err}
	}
	buf = buf[n:]

	sig, err := pakbus.DeserializeBE(buf, 2)
	if err != nil {
		return DLProgStats{}, &AppError{Op: "get-prog-stats", Err: err}
	}
	stats.OSSig = uint16(sig)
	buf = buf[2:]

	stats.SerialNbr, n, err = pakbus.VarLenString(buf)
	if err != nil {
		return DLProgStats{}, &AppError{Op: "get-prog-stats", Err: err}
	}
	buf = buf[n:]

	stats.PowUpProg, n, err = pakbus.VarLenString(buf)
	if err != nil {
		return DLProgStats{}, &AppError{Op: "get-prog-stats", Err: err}
	}
	buf = buf[n:]

	stats.ProgName, n, err = pakbus.VarLenString(buf)
	if err != nil {
		return DLProgStats{}, &AppError{Op: "get-prog-stats", Err: err}
	}
	buf = buf[n:]

	sig, err = pakbus.DeserializeBE(buf, 2)
	if err != nil {
		return DLProgStats{}, &AppError{Op: "get-prog-stats", Err: err}
	}
	stats.ProgSig = uint16(sig)

	return stats, nil
}
