// Package domain holds the value types shared across the gateway pipeline.
// Every type here is immutable once constructed; mutation produces a new
// value rather than modifying one in place.
package domain

import (
	"fmt"
	"regexp"
	"time"
)

// Visibility controls whether an endpoint is reachable without an access
// control check beyond authentication.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// EndpointType distinguishes plain HTTP endpoints from WebSocket ones.
type EndpointType string

const (
	EndpointHTTP      EndpointType = "HTTP"
	EndpointWebSocket EndpointType = "WEBSOCKET"
)

// ReservedServiceIDs names the first-path-segments that can never be used
// as a serviceId — they are claimed by the gateway itself.
var ReservedServiceIDs = map[string]bool{
	"admin":   true,
	"gateway": true,
	"q":       true,
}

var serviceIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateServiceID checks the §3 invariant: serviceId matches [a-z0-9-]+
// and is not reserved.
func ValidateServiceID(id string) error {
	if id == "" || !serviceIDPattern.MatchString(id) {
		return fmt.Errorf("service id %q must match [a-z0-9-]+", id)
	}
	if ReservedServiceIDs[id] {
		return fmt.Errorf("service id %q is reserved", id)
	}
	return nil
}

// AccessConfig is the optional allowlist attached to a Service or Endpoint.
// Per §3: when the owning resource is PRIVATE and any of these lists is
// non-empty, the caller's source identifier must match at least one entry
// in at least one populated list.
type AccessConfig struct {
	AllowedIPs        []string // literals and/or CIDRs
	AllowedDomains    []string
	AllowedSubdomains []string
}

// IsEmpty reports whether no allowlist has any entries.
func (a AccessConfig) IsEmpty() bool {
	return len(a.AllowedIPs) == 0 && len(a.AllowedDomains) == 0 && len(a.AllowedSubdomains) == 0
}

// RateLimitConfig is an optional override attached to a Service or Endpoint.
// A zero value means "inherit from the next level up" (§4.5 resolution).
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowSeconds     int
	BurstCapacity     int
}

// IsZero reports whether this override carries no values.
func (r RateLimitConfig) IsZero() bool {
	return r.RequestsPerWindow == 0 && r.WindowSeconds == 0 && r.BurstCapacity == 0
}

// SamplingConfig controls trace sampling overrides per service/endpoint.
type SamplingConfig struct {
	// Ratio is a value in [0,1]; 0 means "use the platform default".
	Ratio float64
}

// Endpoint is a single path+method+type rule belonging to a Service.
type Endpoint struct {
	ID           string
	Path         string // glob: literal segments, {var}, *, **
	Methods      map[string]bool
	Type         EndpointType
	Visibility   Visibility
	AuthRequired bool
	// RequiredPermissions, if non-empty, must all be present in the
	// caller's expanded permission set (§4.3 step 4).
	RequiredPermissions []string
	PathRewrite         string // may reference {var} captures
	Access              *AccessConfig
	RateLimit           *RateLimitConfig
	Sampling            *SamplingConfig
	Audience            string // overrides the service/platform default aud
	// registrationOrder is set by the registry on Put and used for the
	// tie-break rule in §4.1 — earlier registration wins.
	registrationOrder int
}

// WithRegistrationOrder returns a copy of e with its registration order set.
// Used exclusively by the registry when compiling the endpoint index.
func (e Endpoint) WithRegistrationOrder(n int) Endpoint {
	e.registrationOrder = n
	return e
}

// RegistrationOrder returns the order this endpoint was registered in,
// relative to other endpoints sharing the same registry.
func (e Endpoint) RegistrationOrder() int { return e.registrationOrder }

// AllowsMethod reports whether m is permitted by this endpoint. An empty
// or "*"-containing method set matches any method.
func (e Endpoint) AllowsMethod(m string) bool {
	if len(e.Methods) == 0 || e.Methods["*"] {
		return true
	}
	return e.Methods[m]
}

// Service is a registered upstream and its endpoints.
type Service struct {
	ServiceID           string
	DisplayName         string
	BaseURL             string // absolute URI
	Endpoints           []Endpoint
	Access              *AccessConfig
	RateLimit           *RateLimitConfig
	Sampling            *SamplingConfig
	DefaultVisibility   Visibility
	DefaultAuthRequired bool
	RoutePrefix         string
}

// Validate checks the invariants from §3 and SPEC_FULL Part D.1/D.3.
func (s Service) Validate() error {
	if err := ValidateServiceID(s.ServiceID); err != nil {
		return err
	}
	if s.BaseURL == "" {
		return fmt.Errorf("service %q: baseUrl is required", s.ServiceID)
	}
	if len(s.Endpoints) == 0 {
		return fmt.Errorf("service %q: at least one endpoint is required", s.ServiceID)
	}
	return nil
}

// EffectiveVisibility resolves an endpoint's visibility against its service
// default, per SPEC_FULL Part D.3: an endpoint with an unset visibility
// inherits the service's DefaultVisibility.
func (s Service) EffectiveVisibility(e Endpoint) Visibility {
	if e.Visibility != "" {
		return e.Visibility
	}
	if s.DefaultVisibility != "" {
		return s.DefaultVisibility
	}
	return VisibilityPublic
}

// RouteMatch is the result of a successful route resolution. It lives for
// the duration of one pipeline invocation.
type RouteMatch struct {
	Service              Service
	Endpoint             Endpoint
	MatchedPathOnService string
	PathVariables        map[string]string
	// PassThrough is true when this match came from first-segment
	// pass-through resolution rather than the compiled gateway-mode
	// endpoint automaton.
	PassThrough bool
}

// RateLimitKeyType distinguishes the three rate-limited surfaces.
type RateLimitKeyType string

const (
	RateLimitHTTP   RateLimitKeyType = "HTTP"
	RateLimitWSConn RateLimitKeyType = "WS_CONN"
	RateLimitWSMsg  RateLimitKeyType = "WS_MSG"
)

// RateLimitKey identifies one bucket.
type RateLimitKey struct {
	Type             RateLimitKeyType
	ServiceID        string
	EndpointID       string
	ClientID         string
	WSConnectionID   string
}

// String renders a stable cache/store key for this identity.
func (k RateLimitKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", k.Type, k.ServiceID, k.EndpointID, k.ClientID, k.WSConnectionID)
}

// EffectiveRateLimit is the resolved limit applied to one key (§3).
type EffectiveRateLimit struct {
	RequestsPerWindow int
	WindowSeconds     int
	BurstCapacity     int
}

// RefillRate is tokens added per second.
func (e EffectiveRateLimit) RefillRate() float64 {
	if e.WindowSeconds <= 0 {
		return 0
	}
	return float64(e.RequestsPerWindow) / float64(e.WindowSeconds)
}

// Validate checks the §3 invariants.
func (e EffectiveRateLimit) Validate() error {
	if e.RequestsPerWindow < 0 || e.WindowSeconds <= 0 || e.BurstCapacity < 0 {
		return fmt.Errorf("invalid rate limit %+v", e)
	}
	return nil
}

// BucketState is the persisted state of one token bucket.
type BucketState struct {
	Tokens           float64
	LastRefillMillis int64
}

// RateLimitDecision is the outcome of one checkAndConsume call.
type RateLimitDecision struct {
	Allowed           bool
	Remaining         int
	Limit             int
	WindowSeconds     int
	ResetAt           time.Time
	RetryAfterSeconds int
	RequestCount      int64
	NewState          BucketState
}

// DownstreamTokenClaims describes the "Aussie token" minted for upstreams.
type DownstreamTokenClaims struct {
	Subject     string
	Issuer      string
	Audience    string
	Permissions []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}
