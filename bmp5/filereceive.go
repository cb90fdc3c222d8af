package bmp5

import "github.com/kvello/pbcdlcomm/pakbus"

// FileReceive fetches filename (the station's ".TDF" table-definition file
// is the only one the collector ever requests) in successive swaths,
// assembling the full byte stream. secCode is the device security code;
// 0 if none is configured.
func (s *Session) FileReceive(filename string, secCode uint16) ([]byte, error) {
	var out []byte
	var swath uint32

	for {
		body := make([]byte, 0, len(filename)+8)
		body = append(body, msgFileRecvReq)
		body = append(body, pakbus.SerializeBE(uint32(secCode), 2)...)
		body = append(body, []byte(filename)...)
		body = append(body, 0x00)
		body = append(body, pakbus.SerializeBE(swath, 4)...)

		_, resp, err := s.roundTrip("file-receive", body)
		if err != nil {
			return nil, err
		}
		if len(resp) < 6 || resp[0] != msgFileRecvResp {
			return nil, &AppError{Op: "file-receive", Err: ErrTDFRead}
		}

		respCode := resp[1]
		if respCode != 0 {
			return nil, &AppError{Op: "file-receive", Err: ErrTDFRead}
		}

		fileSwath, err := pakbus.DeserializeBE(resp[2:6], 4)
		if err != nil {
			return nil, &AppError{Op: "file-receive", Err: err}
		}
		if fileSwath != swath {
			// Device re-sent an earlier swath; drop it and re-request ours.
			continue
		}

		chunk := resp[6:]
		if len(chunk) == 0 {
			// Empty swath marks end of file.
			break
		}
		out = append(out, chunk...)
		swath++
	}

	return out, nil
}
