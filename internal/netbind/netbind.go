// Package netbind resolves and opens the TCP listener the server binds
// to, auto-switching to a nearby free port when the requested one is
// already taken, bounded so it cannot loop forever on an unlucky host.
package netbind

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"

	"servelocal/internal/metrics"
)

const (
	// maxAttempts bounds the auto-switch scan (spec.md §4.5: "≤100
	// attempts or u16::MAX-1", whichever is reached first).
	maxAttempts = 100
	maxPort     = 65534 // u16::MAX - 1
)

// Result describes the listener actually opened, which may differ from
// the requested port after auto-switching.
type Result struct {
	Listener     net.Listener
	Port         int
	SwitchedFrom int // 0 if the requested port was used as-is
}

// Open binds to host:port. When autoSwitch is true and the requested
// port is already in use, it probes successive higher ports until one is
// free; any bind error other than "address in use" (such as permission
// denied on a privileged port) is returned as-is, and port 0 (let the OS
// choose) always succeeds on the first attempt.
func Open(host string, port int, autoSwitch bool, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if port == 0 || !autoSwitch {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return Result{}, fmt.Errorf("binding %s:%d: %w", host, port, err)
		}
		return Result{Listener: ln, Port: actualPort(ln)}, nil
	}

	requested := port
	for attempt := 0; attempt < maxAttempts && port <= maxPort; attempt++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			if port != requested {
				logger.Info("requested port unavailable, switched", "requested", requested, "bound", port)
				metrics.ObserveBindSwitch("switched")
			}
			result := Result{Listener: ln, Port: actualPort(ln)}
			if port != requested {
				result.SwitchedFrom = requested
			}
			return result, nil
		}
		if !isAddrInUse(err) {
			return Result{}, fmt.Errorf("binding %s:%d: %w", host, port, err)
		}
		port++
	}

	metrics.ObserveBindSwitch("exhausted")
	return Result{}, fmt.Errorf("no free port found near %d after %d attempts", requested, maxAttempts)
}

func actualPort(ln net.Listener) int {
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// isAddrInUse reports whether err indicates the port was already bound,
// as opposed to a permission or other fatal bind failure that should not
// be silently retried on the next port.
func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// ExternalIPs returns a best-effort list of the host's non-loopback IPv4
// addresses, for logging a convenient LAN URL alongside the bound
// listener. Failures are silent — this is cosmetic, never fatal.
func ExternalIPs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var ips []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			ips = append(ips, ip4.String())
		}
	}
	return ips
}
