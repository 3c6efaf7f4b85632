// Package forwarding builds the outbound proxy request's forwarding headers
// per spec §4.4: legacy X-Forwarded-For/Proto/Host (grounded on the
// teacher's internal/proxy/proxy.go header-copy step, which appends to an
// existing X-Forwarded-For rather than overwriting it) and, when
// configured, an additional RFC 7239 Forwarded header entry — plus a Via
// chain entry identifying this gateway hop.
package forwarding

import (
	"fmt"
	"net/http"
	"strings"
)

const viaPseudonym = "aussie-gateway"

// Builder constructs the forwarding header set for one proxied request.
type Builder struct {
	// UseRFC7239 additionally appends an RFC 7239 Forwarded header entry
	// alongside the legacy X-Forwarded-* headers (never in place of them,
	// since downstream services may depend on either convention).
	UseRFC7239 bool
}

// Apply mutates header in place: it preserves any inbound X-Forwarded-*
// values verbatim and appends this hop's own contribution, per SPEC_FULL
// Part D's "Via chain + Forwarded/XFF coexistence" requirement.
func (b Builder) Apply(header http.Header, clientIP, proto, host string) {
	if clientIP != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			header.Set("X-Forwarded-For", clientIP)
		}
	}

	if header.Get("X-Forwarded-Proto") == "" {
		header.Set("X-Forwarded-Proto", proto)
	}
	if header.Get("X-Forwarded-Host") == "" {
		header.Set("X-Forwarded-Host", host)
	}

	if b.UseRFC7239 {
		entry := forwardedEntry(clientIP, proto, host)
		if prior := header.Get("Forwarded"); prior != "" {
			header.Set("Forwarded", prior+", "+entry)
		} else {
			header.Set("Forwarded", entry)
		}
	}

	appendVia(header, proto)
}

// forwardedEntry renders one RFC 7239 Forwarded header element. IPv6
// literals are quoted and bracketed per the grammar's node-identifier rule;
// a host value carrying a port is quoted but not bracketed.
func forwardedEntry(clientIP, proto, host string) string {
	var parts []string
	if clientIP != "" {
		parts = append(parts, "for="+quoteIfNeeded(clientIP))
	}
	if host != "" {
		h := host
		if strings.ContainsAny(h, ":[]") {
			h = fmt.Sprintf("%q", h)
		}
		parts = append(parts, "host="+h)
	}
	if proto != "" {
		parts = append(parts, "proto="+proto)
	}
	return strings.Join(parts, ";")
}

func quoteIfNeeded(node string) string {
	if strings.Contains(node, ":") {
		return fmt.Sprintf("%q", "["+node+"]")
	}
	return node
}

// appendVia adds this gateway's own Via entry, preserving any upstream Via
// chain already present on the request.
func appendVia(header http.Header, proto string) {
	protoVersion := "1.1"
	entry := protoVersion + " " + viaPseudonym
	if prior := header.Get("Via"); prior != "" {
		header.Set("Via", prior+", "+entry)
	} else {
		header.Set("Via", entry)
	}
}

// ProtoOf returns "https" or "http" for the given request's TLS state,
// matching the teacher's proxy.go convention.
func ProtoOf(tls bool) string {
	if tls {
		return "https"
	}
	return "http"
}

// WSSchemeOf maps an HTTP(S) scheme to its WebSocket counterpart per §6's
// "scheme mapped http→ws, https→wss" outbound WebSocket URI derivation.
// Any scheme already in ws/wss form (or unrecognized) is returned as-is.
func WSSchemeOf(httpScheme string) string {
	switch httpScheme {
	case "https":
		return "wss"
	case "http":
		return "ws"
	default:
		return httpScheme
	}
}
