// Package socket dials the raw TCP connection the TLS client opens before
// any record is written, applying the handful of TCP_NODELAY/keepalive
// options a low-latency handshake channel wants. Option-setting goes
// through golang.org/x/sys/unix on Linux and net.TCPConn's portable
// setters elsewhere.
package socket

import (
	"context"
	"net"
	"time"

	"github.com/yourusername/pirtls/pkg/pir/pirerr"
)

// Tuning holds the per-connection TCP knobs; zero values mean "leave the
// system default alone".
type Tuning struct {
	NoDelay    bool
	RecvBuffer int
	SendBuffer int
	KeepAlive  bool
	KeepIdle   time.Duration
}

// DefaultTuning suits a handshake-heavy client connection: low latency
// over bulk throughput.
func DefaultTuning() *Tuning {
	return &Tuning{
		NoDelay:    true,
		RecvBuffer: 64 * 1024,
		SendBuffer: 64 * 1024,
		KeepAlive:  true,
		KeepIdle:   30 * time.Second,
	}
}

// DialTimeout is how long Dial waits for the TCP handshake before giving
// up.
const DialTimeout = 5 * time.Second

// Dial opens a TCP connection to addr and applies tuning before any TLS
// bytes are sent.
func Dial(ctx context.Context, network, addr string, tuning *Tuning) (net.Conn, error) {
	if tuning == nil {
		tuning = DefaultTuning()
	}
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.TlsOpenFailedSocket)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := Apply(tcpConn, tuning); err != nil {
			tcpConn.Close()
			return nil, pirerr.Wrap(err, pirerr.TlsOpenFailedSocket)
		}
	}
	return conn, nil
}
