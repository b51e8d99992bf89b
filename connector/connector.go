// Package connector resolves a host and opens the TCP stream that the
// meters drive.
package connector

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/apex/log"
	"github.com/m-lab/tcp-speedtest/bbr"
	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/model"
)

// Stream is a connected, ordered byte channel. Write may accept fewer
// bytes than requested without returning an error. CloseWrite shuts down
// the send direction only. Close releases the stream and must be called
// exactly once by its owner.
type Stream interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close() error
}

// Resolver looks up the IPv4 addresses of a host. *net.Resolver
// implements it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// ResolutionError is returned when |Host| yields no usable address.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %s: no IPv4 address", e.Host)
	}
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

// Unwrap returns model.ErrResolution so callers can match the kind.
func (e *ResolutionError) Unwrap() []error {
	return []error{model.ErrResolution, e.Err}
}

// ConnectError is returned when dialing the resolved address fails.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

// Unwrap returns model.ErrConnect so callers can match the kind.
func (e *ConnectError) Unwrap() []error {
	return []error{model.ErrConnect, e.Err}
}

// Connector opens Streams. The zero value uses net.DefaultResolver and a
// dialer without a timeout.
type Connector struct {
	Resolver Resolver
	Dialer   net.Dialer

	// EnableBBR asks the kernel to use BBR on every new connection. Failure
	// to do so is logged and otherwise ignored.
	EnableBBR bool
}

func (c *Connector) resolver() Resolver {
	if c.Resolver == nil {
		return net.DefaultResolver
	}
	return c.Resolver
}

func (c *Connector) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, &ResolutionError{Host: host}
	}
	ips, err := c.resolver().LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, &ResolutionError{Host: host, Err: err}
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, &ResolutionError{Host: host}
}

// Connect resolves |host| and opens a TCP connection to the first IPv4
// address on |port|. There are no retries. The caller owns the returned
// Stream.
func (c *Connector) Connect(ctx context.Context, host string, port int) (Stream, error) {
	ip, err := c.resolve(ctx, host)
	if err != nil {
		logging.Logger.WithError(err).Warn("connector: resolve failed")
		return nil, err
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	conn, err := c.Dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		logging.Logger.WithError(err).Warn("connector: dial failed")
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	tc := conn.(*net.TCPConn)
	if c.EnableBBR {
		if err := bbr.Enable(tc); err != nil {
			logging.Logger.WithError(err).Warn("connector: cannot enable BBR")
		}
	}
	logging.Logger.WithFields(log.Fields{
		"host":  host,
		"addr":  addr,
		"local": conn.LocalAddr().String(),
	}).Debug("connector: connected")
	return tc, nil
}
