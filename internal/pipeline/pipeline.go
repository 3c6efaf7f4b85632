// Package pipeline implements the HTTP gateway pipeline of spec §4.6: the
// ENTRY → RESOLVE_ROUTE → RATE_LIMIT → AUTHENTICATE → PREPARE → DISPATCH →
// RESPOND state machine that fronts both plain HTTP requests and WebSocket
// upgrades (which branch off to internal/wsproxy right after AUTHENTICATE).
//
// Grounded on the teacher's internal/gateway/gateway.go serveHTTP and
// middlewares.go (step numbering, statusRecorder-style response wrapping,
// the Step-N comment convention), generalized from the teacher's
// router+load-balancer+many-optional-middlewares chain to this spec's
// single fixed seven-stage sequence over the registry/auth/ratelimit/
// prepare/transport packages built for this gateway.
package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aussiegw/gateway/internal/auth"
	"github.com/aussiegw/gateway/internal/config"
	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/ports"
	"github.com/aussiegw/gateway/internal/prepare"
	"github.com/aussiegw/gateway/internal/problem"
	"github.com/aussiegw/gateway/internal/ratelimit"
	"github.com/aussiegw/gateway/internal/registry"
	"github.com/aussiegw/gateway/internal/transport"
	"github.com/aussiegw/gateway/internal/trustedproxy"
	"github.com/aussiegw/gateway/internal/wsproxy"
)

// Pipeline is the gateway's main http.Handler: it resolves a route, applies
// rate limiting and auth, and either proxies a plain HTTP request or hands a
// WebSocket upgrade off to its wsproxy.Pipeline.
type Pipeline struct {
	registry     *registry.Registry
	rateLimiter  *ratelimit.Engine
	evaluator    *auth.Evaluator
	minter       *auth.Minter
	trustedProxy trustedproxy.Resolver
	access       trustedproxy.AccessChecker
	prepare      prepare.Builder
	dispatcher   *transport.Dispatcher
	ws           *wsproxy.Pipeline

	auth    config.AuthConfig
	limits  config.LimitsConfig
	rlCfg   config.RateLimitingConfig

	metrics  ports.Metrics
	tracer   ports.Tracer
	traffic  ports.TrafficAttributing
	security ports.SecurityMonitoring
}

// New builds a Pipeline. Any of metrics/tracer/traffic/security may be nil,
// in which case the corresponding observability call is skipped.
func New(
	reg *registry.Registry,
	rateLimiter *ratelimit.Engine,
	evaluator *auth.Evaluator,
	minter *auth.Minter,
	trustedProxy trustedproxy.Resolver,
	prepareBuilder prepare.Builder,
	dispatcher *transport.Dispatcher,
	ws *wsproxy.Pipeline,
	authCfg config.AuthConfig,
	limits config.LimitsConfig,
	rlCfg config.RateLimitingConfig,
	metrics ports.Metrics,
	tracer ports.Tracer,
	traffic ports.TrafficAttributing,
	security ports.SecurityMonitoring,
) *Pipeline {
	return &Pipeline{
		registry:     reg,
		rateLimiter:  rateLimiter,
		evaluator:    evaluator,
		minter:       minter,
		trustedProxy: trustedProxy,
		access:       trustedproxy.AccessChecker{},
		prepare:      prepareBuilder,
		dispatcher:   dispatcher,
		ws:           ws,
		auth:         authCfg,
		limits:       limits,
		rlCfg:        rlCfg,
		metrics:      metrics,
		tracer:       tracer,
		traffic:      traffic,
		security:     security,
	}
}

// ServeHTTP runs one request through the full seven-stage pipeline.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestStart := time.Now()
	clientIP := p.trustedProxy.ClientIP(r)

	// RESOLVE_ROUTE
	match, routeErr := p.resolveRoute(r)
	if routeErr != nil {
		p.writeProblem(w, r, routeErr)
		return
	}

	isUpgrade := wsproxy.IsUpgradeRequest(r)
	if isUpgrade && match.Endpoint.Type != domain.EndpointWebSocket {
		p.writeProblem(w, r, problem.New(problem.KindNotWebSocket, "endpoint does not accept a websocket upgrade"))
		return
	}

	if r.ContentLength > p.limits.MaxBodySize && p.limits.MaxBodySize > 0 {
		p.writeProblem(w, r, problem.New(problem.KindPayloadTooLarge, "request body exceeds the configured maximum"))
		return
	}
	if p.limits.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, p.limits.MaxBodySize)
	}

	// RATE_LIMIT — keyed on the pre-auth client IP, since RATE_LIMIT
	// precedes AUTHENTICATE in §4.6's state ordering.
	if decision, ok := p.checkRateLimit(w, r, match, clientIP); !ok {
		_ = decision
		return
	}

	// AUTHENTICATE
	identity, downstreamToken, authErr := p.authenticate(r, match, clientIP)
	if authErr != nil {
		if p.metrics != nil {
			p.metrics.IncAuthFailures(string(authErr.Kind()))
		}
		if p.security != nil {
			p.security.Record(r.Context(), ports.SecurityEvent{
				Kind:      string(authErr.Kind()),
				ClientID:  clientIP,
				ServiceID: match.Service.ServiceID,
				Detail:    authErr.Detail,
				At:        time.Now(),
			})
		}
		p.writeProblem(w, r, authErr)
		return
	}

	// WebSocket upgrades branch off here: CAPACITY/DIAL_BACKEND/
	// UPGRADE_CLIENT/RUNNING/CLOSING all live in internal/wsproxy.
	if isUpgrade {
		p.ws.HandleUpgrade(w, r, match, identity, downstreamToken)
		return
	}

	// PREPARE
	prepared, err := p.prepare.Build(r, match, downstreamToken)
	if err != nil {
		p.writeProblem(w, r, problem.New(problem.KindInternal, "failed to derive upstream target"))
		return
	}

	// DISPATCH
	ctx, span := p.startDispatchSpan(r.Context(), prepared)
	resp, err := p.dispatcher.Do(prepared.UpstreamBase, prepared.Request.WithContext(ctx))
	if err != nil {
		prob := transport.ProblemForDispatchError(ctx, err)
		if span != nil {
			span.RecordError(err)
			span.End()
		}
		if p.metrics != nil {
			p.metrics.IncErrorsTotal(string(prob.Kind()))
			if prob.Kind() == problem.KindUpstreamTimeout {
				p.metrics.IncProxyTimeout(upstreamHost(prepared.UpstreamBase), "request")
			}
		}
		p.writeProblem(w, r, prob)
		return
	}
	defer resp.Body.Close()

	// RESPOND
	prepare.FilterResponseHeaders(resp.Header)
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	rec := &responseRecorder{ResponseWriter: w, statusCode: resp.StatusCode}
	rec.WriteHeader(resp.StatusCode)
	responseBytes, _ := io.Copy(rec, resp.Body)

	duration := time.Since(requestStart)
	if span != nil {
		span.SetAttribute("http.status_code", resp.StatusCode)
		span.End()
	}

	serviceID := match.Service.ServiceID
	if p.metrics != nil {
		p.metrics.IncRequestsTotal(serviceID, r.Method, resp.StatusCode)
		p.metrics.ObserveUpstreamLatency(serviceID, duration)
		p.metrics.ObserveRequestBytes(serviceID, r.ContentLength)
		p.metrics.ObserveResponseBytes(serviceID, responseBytes)
	}
	if p.traffic != nil {
		p.traffic.Record(r.Context(), ports.TrafficAttribution{
			ServiceID:     serviceID,
			RequestBytes:  r.ContentLength,
			ResponseBytes: responseBytes,
			DurationMs:    duration.Milliseconds(),
		})
	}
}

// resolveRoute implements §4.2's two routing modes: gateway mode under
// "/gateway/", and pass-through mode keyed by the request's first path
// segment, per SPEC_FULL's resolution of the Open Question of which
// behavior to keep — pass-through always produces a synthetic RouteMatch
// here rather than being rejected in gateway mode.
func (p *Pipeline) resolveRoute(r *http.Request) (domain.RouteMatch, *problem.Problem) {
	path := r.URL.Path

	if rest, ok := splitGatewayPath(path); ok {
		match, status := p.registry.Match(rest, r.Method)
		switch status {
		case registry.StatusMatched:
			return match, nil
		case registry.StatusMethodNotAllowed:
			return domain.RouteMatch{}, problem.New(problem.KindMethodNotAllowed, "method not allowed for this endpoint")
		default:
			return domain.RouteMatch{}, problem.New(problem.KindRouteNotFound, "no endpoint matches this path")
		}
	}

	serviceID, rest := splitFirstSegment(path)
	if serviceID == "" || domain.ReservedServiceIDs[serviceID] {
		return domain.RouteMatch{}, problem.New(problem.KindRouteNotFound, "no endpoint matches this path")
	}

	svc, ok := p.registry.LookupService(serviceID)
	if !ok {
		return domain.RouteMatch{}, problem.New(problem.KindServiceNotFound, "unknown service \""+serviceID+"\"")
	}

	epType := domain.EndpointHTTP
	if wsproxy.IsUpgradeRequest(r) {
		epType = domain.EndpointWebSocket
	}

	synthetic := domain.Endpoint{
		Type:         epType,
		AuthRequired: svc.DefaultAuthRequired,
	}

	return domain.RouteMatch{
		Service:              svc,
		Endpoint:             synthetic,
		MatchedPathOnService: rest,
		PathVariables:        map[string]string{},
		PassThrough:          true,
	}, nil
}

// splitGatewayPath reports whether path falls under the reserved
// "/gateway" prefix and, if so, returns the remainder (still leading-slash
// rooted) that the registry's compiled endpoint patterns match against.
func splitGatewayPath(path string) (string, bool) {
	const prefix = "/gateway"
	if path == prefix {
		return "/", true
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/' {
		return path[len(prefix):], true
	}
	return "", false
}

// splitFirstSegment extracts the first path segment (the candidate
// serviceId) and the remainder, which is forwarded verbatim in
// pass-through mode.
func splitFirstSegment(path string) (first, rest string) {
	trimmed := path
	if len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '/' {
			return trimmed[:i], trimmed[i:]
		}
	}
	if trimmed == "" {
		return "", "/"
	}
	return trimmed, "/"
}

// checkRateLimit runs §4.5's HTTP-type check-and-consume and writes the
// X-RateLimit-* headers (always, when configured) plus Retry-After and a
// 429 problem on rejection. It returns ok=false once a terminal response
// has been written.
func (p *Pipeline) checkRateLimit(w http.ResponseWriter, r *http.Request, match domain.RouteMatch, clientIP string) (domain.RateLimitDecision, bool) {
	if p.rateLimiter == nil {
		return domain.RateLimitDecision{Allowed: true}, true
	}

	limit := p.rateLimiter.Effective(match.Service, match.Endpoint)
	key := domain.RateLimitKey{
		Type:      domain.RateLimitHTTP,
		ServiceID: match.Service.ServiceID,
		ClientID:  clientIP,
	}

	decision, err := p.rateLimiter.Check(r.Context(), key, limit)
	if err != nil {
		// §7 recovery policy: a backend failure degrades to allow, tagged
		// as an error rather than surfaced to the caller.
		if p.metrics != nil {
			p.metrics.IncErrorsTotal("rate_limit_backend")
		}
		return domain.RateLimitDecision{Allowed: true}, true
	}

	if p.rlCfg.IncludeHeaders {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}

	if !decision.Allowed {
		if p.rlCfg.IncludeHeaders {
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		}
		if p.metrics != nil {
			p.metrics.IncRateLimitExceeded(string(key.Type))
		}
		p.writeProblem(w, r, problem.New(problem.KindRateLimited, "rate limit exceeded for this client"))
		return decision, false
	}

	return decision, true
}

// authenticate runs §4.3's policy end to end: credential extraction,
// validation, permission and access-control checks, and downstream token
// minting. A nil *problem.Problem return means the caller may proceed.
func (p *Pipeline) authenticate(r *http.Request, match domain.RouteMatch, clientIP string) (ports.Identity, string, *problem.Problem) {
	cred, present := auth.ExtractCredential(r)

	var identity ports.Identity
	if match.Endpoint.AuthRequired {
		if !present {
			return identity, "", problem.New(problem.KindUnauthenticated, "no credential presented")
		}
		outcome, err := p.evaluator.AuthenticateRequest(r.Context(), cred, present)
		if err != nil {
			return identity, "", problem.New(problem.KindInternal, "authentication backend error")
		}
		if !outcome.Authenticated {
			return identity, "", problem.New(problem.KindUnauthenticated, outcome.Reason)
		}
		if !auth.HasAllPermissions(outcome.Identity, match.Endpoint.RequiredPermissions) {
			return identity, "", problem.New(problem.KindForbidden, "missing required permission")
		}
		identity = outcome.Identity
	} else if present {
		// Optional auth: a recognized credential still resolves an identity
		// (so the downstream token and access checks can use it), but
		// rejection never fails the request — §4.3 step 1.
		if outcome, err := p.evaluator.AuthenticateRequest(r.Context(), cred, present); err == nil && outcome.Authenticated {
			identity = outcome.Identity
		}
	}

	accessCfg := match.Endpoint.Access
	if accessCfg == nil {
		accessCfg = match.Service.Access
	}
	visibility := match.Service.EffectiveVisibility(match.Endpoint)
	if visibility == domain.VisibilityPrivate && accessCfg != nil && !accessCfg.IsEmpty() {
		if !p.access.Allow(*accessCfg, clientIP, r.Host) {
			return identity, "", problem.New(problem.KindForbidden, "source is not permitted to reach this private endpoint")
		}
	}

	token, err := p.mintDownstreamToken(match, identity)
	if err != nil {
		return identity, "", problem.New(problem.KindInternal, "failed to mint downstream token")
	}
	return identity, token, nil
}

// mintDownstreamToken builds and signs the Aussie token carried on the
// outbound request, resolving the audience per §4.3 step 5: endpoint
// override, else platform default, else the serviceId when RequireAudience
// is set.
func (p *Pipeline) mintDownstreamToken(match domain.RouteMatch, identity ports.Identity) (string, error) {
	if p.minter == nil {
		return "", nil
	}

	audience := match.Endpoint.Audience
	if audience == "" {
		audience = p.auth.Audience
	}
	if audience == "" && p.auth.RequireAudience {
		audience = match.Service.ServiceID
	}

	claims := domain.DownstreamTokenClaims{
		Subject:     identity.Subject,
		Audience:    audience,
		Permissions: identity.Permissions,
	}
	return p.minter.Mint(claims)
}

// startDispatchSpan opens the CLIENT span covering DISPATCH (§4.6), when a
// tracer is configured.
func (p *Pipeline) startDispatchSpan(ctx context.Context, prepared *prepare.Prepared) (context.Context, ports.Span) {
	if p.tracer == nil {
		return ctx, nil
	}
	ctx, span := p.tracer.StartSpan(ctx, "HTTP "+prepared.Request.Method, ports.SpanKindClient)
	span.SetAttribute("http.method", prepared.Request.Method)
	span.SetAttribute("http.url", prepared.Request.URL.String())
	if u, err := url.Parse(prepared.UpstreamBase); err == nil {
		span.SetAttribute("net.peer.name", u.Hostname())
		span.SetAttribute("net.peer.port", u.Port())
	}
	p.tracer.InjectHTTPHeaders(ctx, prepared.Request.Header)
	return ctx, span
}

func (p *Pipeline) writeProblem(w http.ResponseWriter, r *http.Request, prob *problem.Problem) {
	if p.metrics != nil {
		p.metrics.IncErrorsTotal(string(prob.Kind()))
	}
	prob.WriteJSON(w)
	_ = r
}

func upstreamHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	return u.Hostname()
}

// responseRecorder mirrors the teacher's statusRecorder: it records the
// first status code written and ignores later WriteHeader calls.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rec *responseRecorder) WriteHeader(code int) {
	if rec.written {
		return
	}
	rec.written = true
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	if !rec.written {
		rec.WriteHeader(http.StatusOK)
	}
	return rec.ResponseWriter.Write(b)
}
