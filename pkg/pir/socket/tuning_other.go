//go:build !linux

package socket

import "net"

// Apply falls back to net.TCPConn's portable knobs on platforms without
// Linux-specific setsockopt support; RecvBuffer/SendBuffer/KeepIdle are
// best-effort only here.
func Apply(conn *net.TCPConn, cfg *Tuning) error {
	if cfg.NoDelay {
		if err := conn.SetNoDelay(true); err != nil {
			return err
		}
	}
	if cfg.KeepAlive {
		_ = conn.SetKeepAlive(true)
		if cfg.KeepIdle > 0 {
			_ = conn.SetKeepAlivePeriod(cfg.KeepIdle)
		}
	}
	if cfg.RecvBuffer > 0 {
		_ = conn.SetReadBuffer(cfg.RecvBuffer)
	}
	if cfg.SendBuffer > 0 {
		_ = conn.SetWriteBuffer(cfg.SendBuffer)
	}
	return nil
}
