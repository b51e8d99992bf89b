// Package netready implements the connectivity precondition of the
// meters: block until the host has an IPv4 address to dial from.
package netready

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/tcp-speedtest/logging"
)

// Waiter blocks until outbound connections may be attempted.
type Waiter interface {
	WaitReady(ctx context.Context) error
}

// Assumed is a Waiter that is always ready. Use it when a supervisor
// outside this process already guarantees connectivity.
type Assumed struct{}

// WaitReady returns immediately.
func (Assumed) WaitReady(context.Context) error {
	return nil
}

// DefaultPolling spreads interface checks around the half second the
// device firmware waits between address checks.
var DefaultPolling = memoryless.Config{
	Min:      100 * time.Millisecond,
	Expected: 500 * time.Millisecond,
	Max:      2 * time.Second,
}

// InterfaceWaiter is ready once a non-loopback interface that is up has
// an IPv4 address. If Name is set, only that interface counts.
type InterfaceWaiter struct {
	Name    string
	Polling memoryless.Config
	// Timeout, if positive, bounds the whole wait.
	Timeout time.Duration

	// addrs lists the IPv4 addresses of usable interfaces. Tests replace it.
	addrs func(name string) ([]net.IP, error)
}

func systemAddrs(name string) ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if name != "" && iface.Name != name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsUnspecified() {
				ips = append(ips, ip4)
			}
		}
	}
	return ips, nil
}

// Ready returns the first usable IPv4 address, or nil when there is none.
func (w *InterfaceWaiter) Ready() (net.IP, error) {
	addrs := w.addrs
	if addrs == nil {
		addrs = systemAddrs
	}
	ips, err := addrs(w.Name)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, nil
	}
	return ips[0], nil
}

// WaitReady blocks until Ready finds an address, ctx is done or the
// Timeout expires.
func (w *InterfaceWaiter) WaitReady(ctx context.Context) error {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	if ip, err := w.Ready(); err == nil && ip != nil {
		w.report(ip)
		return nil
	}
	polling := w.Polling
	if polling == (memoryless.Config{}) {
		polling = DefaultPolling
	}
	// The ticker closes its channel once ctx is done.
	ticker, err := memoryless.NewTicker(ctx, polling)
	if err != nil {
		return err
	}
	defer ticker.Stop()
	logging.Logger.WithField("iface", w.Name).Info("netready: waiting for an IPv4 address")
	for range ticker.C {
		ip, err := w.Ready()
		if err != nil {
			logging.Logger.WithError(err).Warn("netready: cannot list interfaces")
			continue
		}
		if ip != nil {
			w.report(ip)
			return nil
		}
	}
	return fmt.Errorf("netready: no IPv4 address: %w", ctx.Err())
}

func (w *InterfaceWaiter) report(ip net.IP) {
	logging.Logger.WithFields(log.Fields{
		"iface": w.Name,
		"ip":    ip.String(),
	}).Info("netready: network is up")
}
