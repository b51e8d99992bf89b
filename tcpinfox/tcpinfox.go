// Package tcpinfox helps to gather TCP_INFO statistics.
package tcpinfox

import (
	"errors"
	"net"

	"github.com/m-lab/tcp-info/tcp"
)

// ErrNoSupport is returned on systems that do not support TCP_INFO.
var ErrNoSupport = errors.New("TCP_INFO not supported")

// GetTCPInfo measures TCP_INFO metrics of |conn| and returns them. In
// case of error, instead, an error is returned.
func GetTCPInfo(conn *net.TCPConn) (*tcp.LinuxTCPInfo, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var info *tcp.LinuxTCPInfo
	var infoErr error
	err = raw.Control(func(fd uintptr) {
		info, infoErr = getTCPInfo(fd)
	})
	if err != nil {
		return nil, err
	}
	return info, infoErr
}
