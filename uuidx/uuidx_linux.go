package uuidx

import (
	"net"

	"github.com/m-lab/uuid"
)

func fromTCPConn(conn *net.TCPConn) (string, error) {
	fp, err := conn.File()
	if err != nil {
		return "", err
	}
	defer fp.Close()
	return uuid.FromFile(fp)
}
