//go:build linux

package network

import (
	"net"
	"syscall"
)

// listenConfig binds with SO_REUSEADDR so a restarted server can take its
// port back at once, and asks for a receive buffer of recvBuffer bytes.
func listenConfig(recvBuffer int) net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); sockErr != nil {
					return
				}
				if recvBuffer > 0 {
					// The kernel caps this at net.core.rmem_max; a smaller buffer is not fatal.
					_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuffer)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
