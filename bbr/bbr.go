// Package bbr switches a TCP connection to the BBR congestion control
// algorithm. This only works on Linux systems with the tcp_bbr module.
package bbr

import (
	"errors"
	"net"
	"strings"
)

// ErrNoSupport indicates that this system does not support BBR.
var ErrNoSupport = errors.New("TCP_CONGESTION not supported")

// Enable attempts to enable BBR on |tc|. The error may be ErrNoSupport, in
// which case it is safe to continue with the default algorithm.
func Enable(tc *net.TCPConn) error {
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = enableBBR(fd)
	})
	if err != nil {
		return err
	}
	return serr
}

// Algorithm returns the name of the congestion control algorithm in use
// on |tc|.
func Algorithm(tc *net.TCPConn) (string, error) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return "", err
	}
	var name string
	var serr error
	err = raw.Control(func(fd uintptr) {
		name, serr = algorithm(fd)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimRight(name, "\x00"), serr
}
