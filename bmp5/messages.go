package bmp5

import (
	"github.com/kvello/pbcdlcomm/clog"
	"github.com/kvello/pbcdlcomm/metrics"
	"github.com/kvello/pbcdlcomm/pakbus"
)

// BMP5 message type codes, carried in the first byte of the application
// body (the link/transport header is added separately by Session).
const (
	msgClockReq      = 0x17
	msgClockResp     = 0x97
	msgProgStatsReq  = 0x18
	msgProgStatsResp = 0x98
	msgFileRecvReq   = 0x1d
	msgFileRecvResp  = 0x9d
	msgCollectReq    = 0x09
	msgCollectResp   = 0x89
	msgCollectTDFErr = 0xa9 // distinct response code: device-side signature mismatch
)

// CollectData mode codes, carried in the request's mode byte.
const (
	ModeAllFromRecord byte = 5
	ModeLastN         byte = 7
	ModeRange         byte = 6
)

// Session is a single BMP5 application session layered on an established
// PakCtrl link. It owns the outbound transaction-number sequence shared by
// every BMP5 request sent over fr.
type Session struct {
	fr      *pakbus.IOBuf
	addr    pakbus.Addr
	tranNbr pakbus.NextTranNbr
	log     clog.Clog

	maxAttempts int
}

// NewSession wires a BMP5 application session onto an already-handshaken
// PakCtrl link.
func NewSession(fr *pakbus.IOBuf, addr pakbus.Addr, maxAttempts int, log clog.Clog) *Session {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Session{fr: fr, addr: addr, maxAttempts: maxAttempts, log: log}
}

// roundTrip sends an application body framed with the link addressing
// header and a fresh transaction number, then reads frames until one
// carries a matching transaction number, retrying on signature/timeout
// failures up to maxAttempts times. Responses whose transaction number
// doesn't match are dropped; reading continues until the per-frame
// timeout expires, matching the PakCtrl drop-and-continue contract.
func (s *Session) roundTrip(op string, body []byte) (tran byte, respBody []byte, err error) {
	tran = s.tranNbr.Next()
	frame := append(append([]byte{}, s.addrHeader(tran)...), body...)

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.TransactionRetries.WithLabelValues(op).Inc()
		}
		if err := s.fr.WriteFrame(frame); err != nil {
			lastErr = err
			s.log.Warn("bmp5 %s write failed (attempt %d): %v", op, attempt+1, err)
			continue
		}
		for {
			raw, err := s.fr.ReadFrame()
			if err != nil {
				lastErr = err
				break
			}
			gotTran, body, ok := s.stripAddrHeader(raw)
			if !ok {
				continue
			}
			if gotTran != tran {
				s.log.Debug("bmp5 %s: dropping response with stale transaction %d (want %d)", op, gotTran, tran)
				continue
			}
			return tran, body, nil
		}
	}
	return tran, nil, pakbus.NewCommError(op, lastErr)
}

// addrHeader prepends the PakBus addressing + transaction-number header
// BMP5 shares with every other transaction type on the link.
func (s *Session) addrHeader(tran byte) []byte {
	hdr := make([]byte, 0, 9)
	hdr = append(hdr, pakbus.SerializeBE(uint32(s.addr.DstNode), 2)...)
	hdr = append(hdr, pakbus.SerializeBE(uint32(s.addr.SrcNode), 2)...)
	hdr = append(hdr, tran)
	return hdr
}

func (s *Session) stripAddrHeader(raw []byte) (tran byte, body []byte, ok bool) {
	if len(raw) < 5 {
		return 0, nil, false
	}
	return raw[4], raw[5:], true
}
