//go:build !linux

package uuidx

import (
	"errors"
	"net"
)

func fromTCPConn(*net.TCPConn) (string, error) {
	return "", errors.New("socket cookies are not supported on this platform")
}
