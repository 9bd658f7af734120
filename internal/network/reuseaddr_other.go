//go:build !linux && !windows

package network

import "net"

func listenConfig(int) net.ListenConfig {
	return net.ListenConfig{}
}
