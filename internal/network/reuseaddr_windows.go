//go:build windows

package network

import (
	"net"
	"syscall"
)

// listenConfig binds with SO_REUSEADDR and a receive buffer of recvBuffer
// bytes. Socket option failures are ignored on Windows.
func listenConfig(recvBuffer int) net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				h := syscall.Handle(fd)
				_ = syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if recvBuffer > 0 {
					_ = syscall.SetsockoptInt(h, syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuffer)
				}
			})
		},
	}
}
