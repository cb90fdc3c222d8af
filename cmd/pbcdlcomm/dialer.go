package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kvello/pbcdlcomm/config"
)

// tcpDialer is the only transport this build wires up: the core's Dialer
// contract (collector.Dialer) is transport-agnostic, and a serial-line
// implementation is a straightforward addition behind the same interface
// when that hardware is available.
type tcpDialer struct {
	addr        string
	retryOnFail bool
	timeout     time.Duration
}

func newDialer(src config.DataSourceConfig) (*tcpDialer, error) {
	if src.Kind != "tcp" {
		return nil, fmt.Errorf("pbcdlcomm: data_source.kind %q has no transport in this build", src.Kind)
	}
	return &tcpDialer{
		addr:        fmt.Sprintf("%s:%d", src.Host, src.Port),
		retryOnFail: src.RetryOnFail,
		timeout:     time.Duration(src.ReadTimeoutS) * time.Second,
	}, nil
}

func (d *tcpDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *tcpDialer) RetryOnFail() bool {
	return d.retryOnFail
}
