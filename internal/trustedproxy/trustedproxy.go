// Package trustedproxy resolves the real client IP through a chain of
// trusted reverse proxies and evaluates per-endpoint access-control allow
// lists (§4.3's access-control step, §6's trusted_proxy config).
//
// CIDRSet is grounded on 3xpluto-go-api-gateway's internal/netx/cidrset.go;
// Resolver.ClientIP is grounded on that repo's internal/mw/ratelimit.go
// IPResolver, generalized to walk the full X-Forwarded-For chain from the
// right (nearest hop first) rather than trusting only the left-most entry,
// per spec §4.4's requirement that only the first untrusted hop's IP is
// authoritative.
package trustedproxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aussiegw/gateway/internal/domain"
)

// CIDRSet is a parsed set of IPs/CIDRs checked with Contains.
type CIDRSet struct {
	nets []*net.IPNet
}

// ParseCIDRSet parses a list of IPs or CIDR blocks. Bare IPs are widened to
// /32 (or /128 for IPv6).
func ParseCIDRSet(items []string) (*CIDRSet, error) {
	set := &CIDRSet{}
	for _, raw := range items {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("trustedproxy: invalid ip %q", s)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			s = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("trustedproxy: invalid cidr %q: %w", s, err)
		}
		set.nets = append(set.nets, n)
	}
	return set, nil
}

// Contains reports whether ip falls within the set. A nil or empty set
// contains nothing.
func (s *CIDRSet) Contains(ip net.IP) bool {
	if s == nil || ip == nil {
		return false
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver determines the originating client IP for a request, trusting
// forwarded-header chains only from proxies in the Trusted set.
type Resolver struct {
	Trusted *CIDRSet
}

// ClientIP walks the X-Forwarded-For chain right-to-left: the request's
// RemoteAddr is trusted only if it's in the Trusted set, in which case the
// nearest untrusted (or left-most) entry in the chain is the real client.
// If RemoteAddr itself is not trusted, RemoteAddr is the client IP — an
// untrusted hop cannot forge who's in front of it.
func (r Resolver) ClientIP(req *http.Request) string {
	remoteIP := parseHostIP(req.RemoteAddr)
	if remoteIP == nil {
		return req.RemoteAddr
	}
	if r.Trusted == nil || !r.Trusted.Contains(remoteIP) {
		return remoteIP.String()
	}

	xff := req.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP.String()
	}

	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		hop := net.ParseIP(strings.TrimSpace(parts[i]))
		if hop == nil {
			continue
		}
		if !r.Trusted.Contains(hop) {
			return hop.String()
		}
		if i == 0 {
			// Every hop in the chain is itself a trusted proxy; the
			// left-most one is the closest we have to the client.
			return hop.String()
		}
	}
	return remoteIP.String()
}

func parseHostIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return net.ParseIP(remoteAddr)
	}
	return net.ParseIP(host)
}

// AccessChecker evaluates an endpoint or service's domain.AccessConfig
// against an inbound request's client IP and Host header.
type AccessChecker struct{}

// Allow reports whether the request satisfies cfg. An empty AccessConfig
// allows everything. IP, domain, and subdomain lists are each optional;
// when present, at least one must match (OR semantics across the three
// categories, consistent with an allow list rather than a set of
// independently-enforced restrictions).
func (AccessChecker) Allow(cfg domain.AccessConfig, clientIP, host string) bool {
	if cfg.IsEmpty() {
		return true
	}

	if len(cfg.AllowedIPs) > 0 {
		set, err := ParseCIDRSet(cfg.AllowedIPs)
		if err == nil {
			if ip := net.ParseIP(clientIP); ip != nil && set.Contains(ip) {
				return true
			}
		}
	}

	hostOnly := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostOnly = h
	}

	for _, d := range cfg.AllowedDomains {
		if strings.EqualFold(hostOnly, d) {
			return true
		}
	}
	for _, sub := range cfg.AllowedSubdomains {
		if strings.HasSuffix(strings.ToLower(hostOnly), "."+strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
