//go:build !linux

package bbr

func enableBBR(fd uintptr) error {
	return ErrNoSupport
}

func algorithm(fd uintptr) (string, error) {
	return "", ErrNoSupport
}
