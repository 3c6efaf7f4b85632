// Package prepare builds the outbound proxy request from a matched route
// and the inbound request (§4.4): target URI derivation with pathRewrite
// variable substitution, hop-by-hop header stripping, forwarding-header
// injection, and downstream-token attachment.
//
// Grounded on the teacher's internal/proxy/proxy.go createProxyRequest and
// removeHopHeaders, generalized from the teacher's load-balanced-backend
// URL joining to this gateway's baseURL+pathRewrite derivation.
package prepare

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/forwarding"
	"github.com/aussiegw/gateway/internal/trustedproxy"
)

// hopByHopHeaders are stripped from both the outbound request and the
// response returned to the client, per §4.4's "Remove hop-by-hop headers"
// and "Response post-filter" rules.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes the hop-by-hop header set (and, for requests only,
// the caller should also drop Host/Content-Length separately since those
// are not ordinary headers on an *http.Request).
func StripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

var varCapture = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// ExpandPathRewrite substitutes `{var}` captures in rewrite using vars,
// leaving any unmatched placeholder untouched (registration does not check
// pathRewrite placeholders against the pattern's captures).
func ExpandPathRewrite(rewrite string, vars map[string]string) string {
	return varCapture.ReplaceAllStringFunc(rewrite, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Builder assembles PreparedProxyRequests from a route match. The Via
// chain entry identifying this hop is added by Forwarding.Apply itself,
// so Builder carries no separate gateway-host field.
type Builder struct {
	Forwarding   forwarding.Builder
	TrustedProxy trustedproxy.Resolver
}

// Prepared is the outbound request shape the transport dispatcher sends
// and the pipeline uses to recover which upstream it targeted.
type Prepared struct {
	Request      *http.Request
	UpstreamBase string
}

// Build derives the outbound *http.Request for match against the inbound
// request r, optionally attaching a downstream bearer token.
func (b Builder) Build(r *http.Request, match domain.RouteMatch, downstreamToken string) (*Prepared, error) {
	base, err := url.Parse(match.Service.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("prepare: invalid service base url: %w", err)
	}

	// MatchedPathOnService carries {var} placeholders whenever the match came
	// from a gateway-mode pattern rather than a literal pass-through tail, so
	// it is expanded the same way an explicit pathRewrite would be.
	targetPath := match.MatchedPathOnService
	if match.Endpoint.PathRewrite != "" {
		targetPath = match.Endpoint.PathRewrite
	}
	targetPath = ExpandPathRewrite(targetPath, match.PathVariables)

	target := *base
	target.Path = joinPath(base.Path, targetPath)
	target.RawQuery = r.URL.RawQuery

	outReq := r.Clone(r.Context())
	outReq.URL = &target
	outReq.RequestURI = ""
	outReq.Host = hostWithoutDefaultPort(target)

	StripHopByHop(outReq.Header)
	outReq.Header.Del("Content-Length")
	outReq.ContentLength = r.ContentLength

	clientIP := b.TrustedProxy.ClientIP(r)
	proto := forwarding.ProtoOf(r.TLS != nil)
	b.Forwarding.Apply(outReq.Header, clientIP, proto, r.Host)

	if downstreamToken != "" {
		outReq.Header.Set("Authorization", "Bearer "+downstreamToken)
	}

	return &Prepared{Request: outReq, UpstreamBase: match.Service.BaseURL}, nil
}

func joinPath(basePath, tail string) string {
	basePath = strings.TrimSuffix(basePath, "/")
	if !strings.HasPrefix(tail, "/") {
		tail = "/" + tail
	}
	return basePath + tail
}

func hostWithoutDefaultPort(u url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		return host
	}
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		return host
	}
	return host + ":" + port
}

// FilterResponseHeaders strips the hop-by-hop set from an upstream
// response before it is copied back to the client, per §4.4's response
// post-filter rule.
func FilterResponseHeaders(h http.Header) {
	StripHopByHop(h)
}
