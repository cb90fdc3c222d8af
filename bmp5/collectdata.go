package bmp5

import "github.com/kvello/pbcdlcomm/pakbus"

// CollectRequest describes one CollectData transaction. TableNum and
// Signature identify and fingerprint the table being asked for; Mode
// selects how P1/P2 are interpreted.
type CollectRequest struct {
	TableNum  int
	Signature uint16
	Mode      byte
	P1        uint32
	P2        uint32
}

// AllFromRecord builds a request for every record with index >= next.
func AllFromRecord(tableNum int, sig uint16, next uint32) CollectRequest {
	return CollectRequest{TableNum: tableNum, Signature: sig, Mode: ModeAllFromRecord, P1: next}
}

// LastN builds a request for the most recent n records.
func LastN(tableNum int, sig uint16, n uint32) CollectRequest {
	return CollectRequest{TableNum: tableNum, Signature: sig, Mode: ModeLastN, P1: n}
}

// Range builds a request for the half-open record interval [begin, end).
func Range(tableNum int, sig uint16, begin, end uint32) CollectRequest {
	return CollectRequest{TableNum: tableNum, Signature: sig, Mode: ModeRange, P1: begin, P2: end}
}

// CollectResult is one CollectData response: the raw concatenated record
// stream (record decode is the record package's job) and whether the
// device has more records to send for this same cursor.
type CollectResult struct {
	MoreRecords bool
	Records     []byte
}

// CollectData fetches one batch of records for req.TableNum. It returns
// *InvalidTDFError, not an AppError, when the device reports a table
// signature different from req.Signature — the distinguishing response
// code lets the collector tell "device disagrees about schema" apart from
// every other application failure and react by reloading the TDF.
func (s *Session) CollectData(req CollectRequest) (CollectResult, error) {
	body := make([]byte, 0, 16)
	body = append(body, msgCollectReq)
	body = append(body, pakbus.SerializeBE(uint32(req.TableNum), 2)...)
	body = append(body, pakbus.SerializeBE(uint32(req.Signature), 2)...)
	body = append(body, req.Mode)
	body = append(body, pakbus.SerializeBE(req.P1, 4)...)
	body = append(body, pakbus.SerializeBE(req.P2, 4)...)

	_, resp, err := s.roundTrip("collect-data", body)
	if err != nil {
		return CollectResult{}, err
	}
	if len(resp) < 1 {
		return CollectResult{}, &AppError{Op: "collect-data", Err: ErrTransient}
	}

	switch resp[0] {
	case msgCollectTDFErr:
		if len(resp) < 3 {
			return CollectResult{}, &AppError{Op: "collect-data", Err: ErrTransient}
		}
		gotSig, err := pakbus.DeserializeBE(resp[1:3], 2)
		if err != nil {
			return CollectResult{}, &AppError{Op: "collect-data", Err: err}
		}
		return CollectResult{}, &InvalidTDFError{
			TableNum: req.TableNum,
			WantSig:  req.Signature,
			GotSig:   uint16(gotSig),
		}
	case msgCollectResp:
		if len(resp) < 2 {
			return CollectResult{}, &AppError{Op: "collect-data", Err: ErrTransient}
		}
		return CollectResult{
			MoreRecords: resp[1] != 0,
			Records:     resp[2:],
		}, nil
	default:
		return CollectResult{}, &AppError{Op: "collect-data", Err: ErrTransient}
	}
}
