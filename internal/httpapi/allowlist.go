package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Allowlist is a parsed set of IPs and CIDR ranges. It gates login and
// every authenticated route; public downloads and /health stay open.
type Allowlist struct {
	nets []*net.IPNet
}

// NewAllowlist parses entries (single IPs or CIDRs). Empty input yields
// nil, meaning no restriction.
func NewAllowlist(entries []string) (*Allowlist, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	a := &Allowlist{}
	for _, e := range entries {
		n, err := parseCIDROrIP(e)
		if err != nil {
			return nil, fmt.Errorf("ip_allowlist entry %q: %w", e, err)
		}
		a.nets = append(a.nets, n)
	}
	return a, nil
}

// Contains reports whether ipStr falls inside any configured range.
func (a *Allowlist) Contains(ipStr string) bool {
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func parseCIDROrIP(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty entry")
	}
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		return n, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip")
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		bits = 32
		ip = v4
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// clientIP extracts the remote address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
