package bmp5

import (
	"bytes"
	"testing"
	"time"

	"github.com/kvello/pbcdlcomm/clog"
	"github.com/kvello/pbcdlcomm/pakbus"
	"github.com/stretchr/testify/require"
)

type loopback struct {
	*bytes.Buffer
}

func (l loopback) SetReadDeadline(time.Time) error { return nil }

func newTestSession(t *testing.T) (*Session, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	fr := pakbus.NewIOBuf(loopback{buf}, time.Second)
	log := clog.NewLogger("test")
	log.LogMode(true)
	return NewSession(fr, pakbus.Addr{SrcNode: 1, DstNode: 2}, 3, log), buf
}

func queueAddrHeaderedFrame(buf *bytes.Buffer, s *Session, tran byte, body []byte) {
	hdr := s.addrHeader(tran)
	full := append(append([]byte{}, hdr...), body...)
	buf.Write(pakbus.Frame(full))
}

func TestClockReadSuccess(t *testing.T) {
	s, buf := newTestSession(t)

	resp := []byte{msgClockResp}
	resp = append(resp, pakbus.SerializeBE(1000, 4)...)
	resp = append(resp, pakbus.SerializeBE(0, 4)...)
	queueAddrHeaderedFrame(buf, s, 1, resp)

	sec, nsec, err := s.Clock(0, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1000), sec)
	require.Equal(t, uint32(0), nsec)
}

func TestClockReadZeroIsInvalid(t *testing.T) {
	s, buf := newTestSession(t)

	resp := []byte{msgClockResp}
	resp = append(resp, pakbus.SerializeBE(0, 4)...)
	resp = append(resp, pakbus.SerializeBE(0, 4)...)
	queueAddrHeaderedFrame(buf, s, 1, resp)

	_, _, err := s.Clock(0, 0)
	require.Error(t, err)
}

func TestClockSetZeroIsSuccess(t *testing.T) {
	s, buf := newTestSession(t)

	resp := []byte{msgClockResp}
	resp = append(resp, pakbus.SerializeBE(0, 4)...)
	resp = append(resp, pakbus.SerializeBE(0, 4)...)
	queueAddrHeaderedFrame(buf, s, 1, resp)

	_, _, err := s.Clock(5, 0)
	require.NoError(t, err)
}

func TestClockSetNonZeroIsFailure(t *testing.T) {
	s, buf := newTestSession(t)

	resp := []byte{msgClockResp}
	resp = append(resp, pakbus.SerializeBE(42, 4)...)
	resp = append(resp, pakbus.SerializeBE(0, 4)...)
	queueAddrHeaderedFrame(buf, s, 1, resp)

	_, _, err := s.Clock(5, 0)
	require.Error(t, err)
}
