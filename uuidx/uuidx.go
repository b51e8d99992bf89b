// Package uuidx assigns a globally unique identifier to a TCP connection.
package uuidx

import (
	"net"

	guuid "github.com/google/uuid"
	"github.com/m-lab/tcp-speedtest/logging"
)

// FromTCPConn returns a string that is a globally unique identifier for
// the socket behind |conn|.
//
// On Linux we use github.com/m-lab/uuid, which is derived from the socket
// cookie. When that fails, or on other platforms, we fall back to a
// time-based google/uuid.
func FromTCPConn(conn *net.TCPConn) string {
	id, err := fromTCPConn(conn)
	if err == nil {
		return id
	}
	logging.Logger.WithError(err).Debug("uuidx: falling back to a time-based UUID")
	return New()
}

// New returns a UUID not tied to any socket.
func New() string {
	u, err := guuid.NewUUID()
	if err != nil {
		// NewUUID only fails when the clock cannot be read.
		return guuid.New().String()
	}
	return u.String()
}
