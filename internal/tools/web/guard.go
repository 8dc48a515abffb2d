package web

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlocked is wrapped by every SSRF rejection.
var ErrBlocked = errors.New("blocked by SSRF guard")

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

var blockedSuffixes = []string{".localhost", ".local", ".internal"}

var carrierGradeNAT = netip.MustParsePrefix("100.64.0.0/10")

// isBlockedAddr reports whether addr is loopback, private, link-local or
// otherwise not a public unicast address.
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		carrierGradeNAT.Contains(addr)
}

// checkURL validates scheme and hostname before any network traffic.
func checkURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return nil, errors.New("URL must have a hostname")
	}
	if blockedHostnames[host] {
		return nil, fmt.Errorf("%w: hostname %s", ErrBlocked, host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil, fmt.Errorf("%w: hostname %s", ErrBlocked, host)
		}
	}
	if addr, err := netip.ParseAddr(host); err == nil && isBlockedAddr(addr) {
		return nil, fmt.Errorf("%w: private address %s", ErrBlocked, host)
	}
	return parsed, nil
}

// guardedDialer checks the address actually dialed, so DNS answers that
// point at private ranges are refused even after hostname checks passed.
func guardedDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return fmt.Errorf("%w: unparseable address %s", ErrBlocked, host)
			}
			if isBlockedAddr(addr) {
				return fmt.Errorf("%w: resolves to private address %s", ErrBlocked, addr)
			}
			return nil
		},
	}
}
