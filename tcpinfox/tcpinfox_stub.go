//go:build !linux

package tcpinfox

import "github.com/m-lab/tcp-info/tcp"

func getTCPInfo(uintptr) (*tcp.LinuxTCPInfo, error) {
	return nil, ErrNoSupport
}
