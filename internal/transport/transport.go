// Package transport builds the dedicated outbound HTTP client the gateway
// uses to reach upstream services (§4.8), and classifies dial/transport
// failures into the taxonomy the pipeline maps onto RFC 7807 problems.
//
// Grounded on the teacher's internal/proxy/transport.go NewTransport: same
// net/http.Transport-with-tuned-Dialer shape, the HTTP/3 and SSRF-protected
// dialer options dropped since neither is wired into this gateway's scope.
package transport

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aussiegw/gateway/internal/config"
)

// NewHTTPClient builds the outbound *http.Client used for all proxied
// requests, tuned from cfg. RequestTimeout bounds the whole round trip;
// ConnectTimeout bounds only the dial phase.
func NewHTTPClient(cfg config.TransportConfig) *http.Client {
	return &http.Client{
		Transport: NewRoundTripper(cfg),
		Timeout:   cfg.RequestTimeout,
	}
}

// NewRoundTripper builds the underlying transport, separated from
// NewHTTPClient so a circuit breaker can wrap it per upstream.
func NewRoundTripper(cfg config.TransportConfig) http.RoundTripper {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// FailureClass is the connection-failure taxonomy from §4.8, derived by
// case-insensitive substring match against the error's message the same
// way the teacher's proxy layer classifies dial errors for metrics tags.
type FailureClass string

const (
	FailureConnectionRefused FailureClass = "connection_refused"
	FailureConnectionReset   FailureClass = "connection_reset"
	FailureHostUnreachable   FailureClass = "host_unreachable"
	FailureDNSResolution     FailureClass = "dns_resolution_failed"
	FailureConnectionError   FailureClass = "connection_error"
)

// ClassifyFailure maps a transport error to a FailureClass for metrics
// tagging. Order matters: "refused" is checked before the more generic
// "unreachable" substring some resolvers also embed in their messages.
func ClassifyFailure(err error) FailureClass {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "refused"):
		return FailureConnectionRefused
	case strings.Contains(msg, "reset"):
		return FailureConnectionReset
	case strings.Contains(msg, "unreachable"):
		return FailureHostUnreachable
	case strings.Contains(msg, "resolve"), strings.Contains(msg, "unknown host"), strings.Contains(msg, "no such host"):
		return FailureDNSResolution
	default:
		return FailureConnectionError
	}
}
