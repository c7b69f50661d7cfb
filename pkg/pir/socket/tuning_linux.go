//go:build linux

package socket

import (
	"net"

	"golang.org/x/sys/unix"
)

// Apply sets TCP_NODELAY, SO_RCVBUF/SO_SNDBUF, and keepalive options on
// conn, failing only on the critical TCP_NODELAY setsockopt; buffer sizing
// and keepalive are best-effort.
func Apply(conn *net.TCPConn, cfg *Tuning) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var lastErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		if cfg.NoDelay {
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
				lastErr = err
				return
			}
		}
		if cfg.RecvBuffer > 0 {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuffer)
		}
		if cfg.SendBuffer > 0 {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBuffer)
		}
		if cfg.KeepAlive {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
			if cfg.KeepIdle > 0 {
				_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(cfg.KeepIdle.Seconds()))
			}
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return lastErr
}
