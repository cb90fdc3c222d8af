package pakbus

import (
	"time"

	"github.com/kvello/pbcdlcomm/clog"
	"github.com/kvello/pbcdlcomm/metrics"
)

// PakCtrl message types, carried in the first byte of a PakCtrl packet body.
const (
	PakCtrlHello        = 0x09
	PakCtrlHelloResp    = 0x89
	PakCtrlRing         = 0x0a
	PakCtrlReady        = 0x8a
	PakCtrlFinished     = 0x0c
	PakCtrlFinishedResp = 0x8c
	PakCtrlBye          = 0x0d
)

// HelloReq is the link-level Hello request that opens the link before Ring
// establishes an application session.
type HelloReq struct {
	IsRouter    byte
	HopMetric   byte
	VerifyIntvl uint16
}

// HelloResp is the peer's reply to a HelloReq.
type HelloResp struct {
	IsRouter    byte
	HopMetric   byte
	VerifyIntvl uint16
}

// EncodeHello builds a PakCtrl Hello request body.
func EncodeHello(req HelloReq) []byte {
	body := make([]byte, 0, 5)
	body = append(body, PakCtrlHello)
	body = append(body, req.IsRouter, req.HopMetric)
	body = append(body, SerializeBE(uint32(req.VerifyIntvl), 2)...)
	return body
}

// DecodeHelloResp parses a PakCtrl Hello response body.
func DecodeHelloResp(body []byte) (HelloResp, error) {
	if len(body) < 5 {
		return HelloResp{}, &ParseError{Offset: 0, Want: 5, Len: len(body)}
	}
	if body[0] != PakCtrlHelloResp {
		return HelloResp{}, NewCommError("decode-hello-resp", ErrBadSignature)
	}
	verify, err := DeserializeBE(body[3:5], 2)
	if err != nil {
		return HelloResp{}, err
	}
	return HelloResp{
		IsRouter:    body[1],
		HopMetric:   body[2],
		VerifyIntvl: uint16(verify),
	}, nil
}

// EncodeRing builds a PakCtrl Ring request body, asking the peer to accept
// an application session over the link Hello already established.
func EncodeRing() []byte {
	return []byte{PakCtrlRing}
}

// decodeSingleByteResp checks that body's first byte is want, the shared
// shape of the Ready and FinishedResp acknowledgements.
func decodeSingleByteResp(op string, body []byte, want byte) error {
	if len(body) < 1 {
		return &ParseError{Offset: 0, Want: 1, Len: len(body)}
	}
	if body[0] != want {
		return NewCommError(op, ErrBadSignature)
	}
	return nil
}

// EncodeFinished builds a PakCtrl Finished request body, gracefully ending
// the application session established by Ring before the physical link is
// torn down with Bye.
func EncodeFinished() []byte {
	return []byte{PakCtrlFinished}
}

// EncodeBye builds a PakCtrl Bye body, ending the link without waiting for
// a response (Bye is fire-and-forget in PakBus).
func EncodeBye() []byte {
	return []byte{PakCtrlBye}
}

// Handshake drives the PakCtrl Hello exchange over fr: it sends a Hello,
// reads the next frame as the Hello response, and returns once the link is
// established. maxAttempts bounds retries on write, timeout, signature or
// malformed-response failure; each retry resends the Hello. PakCtrl frames
// carry no transaction number, so the response is matched by message type
// only.
func Handshake(fr *IOBuf, req HelloReq, maxAttempts int, log clog.Clog) (HelloResp, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.TransactionRetries.WithLabelValues("handshake").Inc()
		}
		if err := fr.WriteFrame(EncodeHello(req)); err != nil {
			lastErr = err
			log.Warn("pakctrl hello write failed (attempt %d): %v", attempt+1, err)
			continue
		}
		body, err := fr.ReadFrame()
		if err != nil {
			lastErr = err
			log.Warn("pakctrl hello read failed (attempt %d): %v", attempt+1, err)
			continue
		}
		resp, err := DecodeHelloResp(body)
		if err != nil {
			lastErr = err
			log.Warn("pakctrl hello response malformed (attempt %d): %v", attempt+1, err)
			continue
		}
		return resp, nil
	}
	return HelloResp{}, NewCommError("handshake", lastErr)
}

// RingHandshake asks the peer to accept an application session: it sends
// Ring and waits for the matching Ready response, retrying on
// timeout/signature failure up to maxAttempts times. It must succeed before
// any BMP5 transaction is attempted on the link.
func RingHandshake(fr *IOBuf, maxAttempts int, log clog.Clog) error {
	return sendAndAwait(fr, "ring", EncodeRing(), PakCtrlReady, maxAttempts, log)
}

// FinishedHandshake gracefully ends the application session established by
// RingHandshake: it sends Finished and waits for the matching
// acknowledgement, retrying on timeout/signature failure up to maxAttempts
// times.
func FinishedHandshake(fr *IOBuf, maxAttempts int, log clog.Clog) error {
	return sendAndAwait(fr, "finished", EncodeFinished(), PakCtrlFinishedResp, maxAttempts, log)
}

// sendAndAwait sends body and reads frames until one decodes as the
// expected single-byte response code, retrying the whole send+read on
// failure up to maxAttempts times.
func sendAndAwait(fr *IOBuf, op string, body []byte, wantResp byte, maxAttempts int, log clog.Clog) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.TransactionRetries.WithLabelValues(op).Inc()
		}
		if err := fr.WriteFrame(body); err != nil {
			lastErr = err
			log.Warn("pakctrl %s write failed (attempt %d): %v", op, attempt+1, err)
			continue
		}
		respBody, err := fr.ReadFrame()
		if err != nil {
			lastErr = err
			log.Warn("pakctrl %s read failed (attempt %d): %v", op, attempt+1, err)
			continue
		}
		if err := decodeSingleByteResp(op, respBody, wantResp); err != nil {
			lastErr = err
			log.Warn("pakctrl %s response malformed (attempt %d): %v", op, attempt+1, err)
			continue
		}
		return nil
	}
	return NewCommError(op, lastErr)
}

// Finish sends a graceful Bye and gives the peer a short grace period to
// tear down its side before the channel is closed. Bye carries no
// transaction number and draws no response, so this never blocks on a read.
func Finish(fr *IOBuf, grace time.Duration) error {
	if err := fr.WriteFrame(EncodeBye()); err != nil {
		return err
	}
	time.Sleep(grace)
	return nil
}
