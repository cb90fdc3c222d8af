package bmp5

import "github.com/kvello/pbcdlcomm/pakbus"

// Clock reads or adjusts the device clock. deltaSec/deltaNsec of (0,0)
// performs a read, returning the device's current time. Any other value
// requests an adjustment by that signed delta; the reply to a set carries
// a status pair rather than a time, and this implementation takes an
// all-zero pair to mean success and anything else as failure. That is the
// reverse of the read case, where an all-zero reply is rejected as an
// invalid time (a device never legitimately reports the 1990 epoch as its
// current time).
func (s *Session) Clock(deltaSec, deltaNsec int32) (sec, nsec uint32, err error) {
	isRead := deltaSec == 0 && deltaNsec == 0

	body := make([]byte, 0, 9)
	body = append(body, msgClockReq)
	body = append(body, pakbus.SerializeBE(uint32(deltaSec), 4)...)
	body = append(body, pakbus.SerializeBE(uint32(deltaNsec), 4)...)

	_, resp, err := s.roundTrip("clock", body)
	if err != nil {
		return 0, 0, err
	}
	if len(resp) < 9 || resp[0] != msgClockResp {
		return 0, 0, &AppError{Op: "clock", Err: ErrTransient}
	}

	sec, err = pakbus.DeserializeBE(resp[1:5], 4)
	if err != nil {
		return 0, 0, &AppError{Op: "clock", Err: err}
	}
	nsec, err = pakbus.DeserializeBE(resp[5:9], 4)
	if err != nil {
		return 0, 0, &AppError{Op: "clock", Err: err}
	}

	if isRead {
		if sec == 0 && nsec == 0 {
			return 0, 0, &AppError{Op: "clock", Err: ErrInvalidLoggerTime}
		}
		return sec, nsec, nil
	}

	if sec != 0 || nsec != 0 {
		return 0, 0, &AppError{Op: "clock-set", Err: ErrInvalidLoggerTime}
	}
	return 0, 0, nil
}
