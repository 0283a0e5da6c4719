//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package gateway

import "syscall"

const reusePortSupported = false

func reusePortControl(network, address string, c syscall.RawConn) error {
	return nil
}
