package tcpinfox

import (
	"syscall"
	"unsafe"

	"github.com/m-lab/tcp-info/tcp"
)

func getTCPInfo(fd uintptr) (*tcp.LinuxTCPInfo, error) {
	tcpInfo := tcp.LinuxTCPInfo{}
	tcpInfoLen := uint32(unsafe.Sizeof(tcpInfo))
	_, _, err := syscall.Syscall6(
		uintptr(syscall.SYS_GETSOCKOPT),
		fd,
		uintptr(syscall.SOL_TCP),
		uintptr(syscall.TCP_INFO),
		uintptr(unsafe.Pointer(&tcpInfo)),
		uintptr(unsafe.Pointer(&tcpInfoLen)),
		uintptr(0))
	if err != 0 {
		return nil, err
	}
	return &tcpInfo, nil
}
