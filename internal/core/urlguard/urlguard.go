// Package urlguard decides whether a caller-supplied callback URL may be
// contacted by the server.
package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"clawbounty.market/internal/core/domain"
)

var blockedHosts = map[string]bool{
	"localhost": true,
	"0.0.0.0":   true,
	"::1":       true,
	"127.0.0.1": true,
}

var blockedSuffixes = []string{".local", ".internal", ".localhost"}

// reserved ranges that netip has no predicate for.
var reserved = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// Validate rejects URLs that are not http(s) or that name a host the server
// must never call: loopback, private, link-local, reserved or unspecified
// address literals, and localhost-like names. It does no DNS lookups.
func Validate(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty url", domain.ErrSSRFRejected)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSSRFRejected, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", domain.ErrSSRFRejected, u.Scheme)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrSSRFRejected)
	}
	if blockedHosts[host] {
		return fmt.Errorf("%w: host %q not allowed", domain.ErrSSRFRejected, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if Blocked(addr) {
			return fmt.Errorf("%w: address %s not allowed", domain.ErrSSRFRejected, addr)
		}
		return nil
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host %q not allowed", domain.ErrSSRFRejected, host)
		}
	}
	return nil
}

// ValidatePtr accepts a nil or empty optional URL.
func ValidatePtr(raw *string) error {
	if raw == nil || *raw == "" {
		return nil
	}
	return Validate(*raw)
}

// Blocked reports whether addr is outside the public unicast space.
func Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() {
		return true
	}
	if addr.Is4() && addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return true
	}
	for _, p := range reserved {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Dialer returns a dialer that refuses to connect to blocked addresses after
// name resolution, closing the gap between Validate and DNS rebinding.
func Dialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrSSRFRejected, err)
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrSSRFRejected, err)
			}
			if Blocked(addr) {
				return fmt.Errorf("%w: refusing to dial %s", domain.ErrSSRFRejected, addr)
			}
			return nil
		},
	}
}

// DialContext is Dialer(timeout).DialContext, for http.Transport.
func DialContext(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return Dialer(timeout).DialContext
}
