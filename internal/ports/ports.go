// Package ports defines the contracts between the core pipeline and the
// external collaborators named in spec §6: persistence, observability, and
// pluggable auth/rate-limit backends. Implementations of these interfaces
// are out of scope for this module (admin REST, OIDC flows, Cassandra/Redis/
// in-memory stores, telemetry sinks) — the core depends only on the
// interfaces below, grounded on the ports/adapters split in
// artpar-apigate's ports/ports.go.
package ports

import (
	"context"
	"time"

	"github.com/aussiegw/gateway/internal/domain"
)

// ErrNotFound is returned by repository/cache lookups that find nothing.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

// ErrStorageUnavailable is returned by a Repository when the backing store
// cannot be reached (§4.2 Failure).
var ErrStorageUnavailable = storageUnavailableError{}

type storageUnavailableError struct{}

func (storageUnavailableError) Error() string { return "storage unavailable" }

// ServiceRegistrationRepository is the CRUD contract over services, owned
// by the out-of-scope admin REST surface but consumed by the registry.
type ServiceRegistrationRepository interface {
	Get(ctx context.Context, serviceID string) (domain.Service, error)
	List(ctx context.Context) ([]domain.Service, error)
	Put(ctx context.Context, svc domain.Service) error
	Delete(ctx context.Context, serviceID string) error
}

// ConfigurationCache is an optional second-level cache the registry may
// consult before falling back to the repository (§6).
type ConfigurationCache interface {
	GetServices(ctx context.Context) ([]domain.Service, bool, error)
	SetServices(ctx context.Context, svcs []domain.Service, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// ApiKeyRecord is the stored shape of one API key, keyed by the SHA-256 hash
// of its plaintext value (§4.3 step 3).
type ApiKeyRecord struct {
	KeyHash   string
	ClientID  string
	Roles     []string
	Revoked   bool
	ExpiresAt time.Time // zero means no expiry
}

// ApiKeyRepository looks up API keys by their SHA-256 hash.
type ApiKeyRepository interface {
	FindByHash(ctx context.Context, hash string) (ApiKeyRecord, error)
}

// RoleRepository expands a role name into the permissions it grants.
type RoleRepository interface {
	PermissionsForRole(ctx context.Context, role string) ([]string, error)
}

// GroupRepository expands a group name into the roles its members hold.
type GroupRepository interface {
	RolesForGroup(ctx context.Context, group string) ([]string, error)
}

// SessionRecord is the server-side record behind an "aussie_session" cookie
// or X-Session-ID header.
type SessionRecord struct {
	AuthSessionID string
	UserID        string
	Roles         []string
	Groups        []string
	ExpiresAt     time.Time
}

// SessionRepository resolves session identifiers to their record (§4.3
// "Session invalidation"). Logout events for the WS gateway (§4.7 "Logout
// propagation") arrive through SessionEvents, not through this interface.
type SessionRepository interface {
	Find(ctx context.Context, sessionID string) (SessionRecord, error)
}

// SessionInvalidated is published when a user logs out.
type SessionInvalidated struct {
	UserID        string
	AuthSessionID string
}

// SessionEvents lets the WS gateway subscribe to logout notifications.
type SessionEvents interface {
	Subscribe(ctx context.Context) (<-chan SessionInvalidated, error)
}

// RateLimiterBackend is the distributed (or in-memory) state store behind
// the rate-limit engine. Implementations must make CheckAndConsume atomic
// per key (§4.5).
type RateLimiterBackend interface {
	CheckAndConsume(ctx context.Context, key domain.RateLimitKey, limit domain.EffectiveRateLimit, now time.Time) (domain.RateLimitDecision, error)
	// RemoveKeysMatching releases all bucket state associated with a
	// WebSocket connection id, called on session cleanup (§4.7).
	RemoveKeysMatching(ctx context.Context, wsConnectionID string) error
}

// Metrics is the observability sink for counters/histograms (§4.6, §4.8).
// Implementations live outside the core (internal/metrics ships a
// Prometheus-backed one used by tests and the default binary).
type Metrics interface {
	IncRequestsTotal(serviceID, method string, status int)
	IncErrorsTotal(kind string)
	IncAuthFailures(reason string)
	IncRateLimitExceeded(keyType string)
	ObserveUpstreamLatency(serviceID string, d time.Duration)
	ObserveRequestBytes(serviceID string, n int64)
	ObserveResponseBytes(serviceID string, n int64)
	IncProxyTimeout(host, phase string)
	SetActiveWSSessions(n int)
}

// SpanKind mirrors the OpenTelemetry span kinds the pipeline cares about.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindClient
)

// Span is a single active trace span.
type Span interface {
	SetAttribute(key string, value any)
	RecordError(err error)
	End()
}

// Tracer is the tracing port (§4.6, §4.8): a CLIENT span covers DISPATCH;
// trace context is injected into outbound requests.
type Tracer interface {
	StartSpan(ctx context.Context, name string, kind SpanKind) (context.Context, Span)
	InjectHTTPHeaders(ctx context.Context, headers map[string][]string)
}

// TrafficAttribution is one successful request's accounting record (§4.6).
type TrafficAttribution struct {
	ServiceID     string
	RequestBytes  int64
	ResponseBytes int64
	DurationMs    int64
}

// TrafficAttributing records per-service traffic accounting.
type TrafficAttributing interface {
	Record(ctx context.Context, a TrafficAttribution)
}

// SecurityEvent is one notable security-relevant outcome (auth failure,
// access-control rejection, rate-limit exceeded).
type SecurityEvent struct {
	Kind      string
	ClientID  string
	ServiceID string
	Detail    string
	At        time.Time
}

// SecurityMonitoring receives security events for out-of-band alerting.
type SecurityMonitoring interface {
	Record(ctx context.Context, e SecurityEvent)
}

// Identity is what a successful TokenValidator run resolves a credential to.
type Identity struct {
	Subject     string
	Roles       []string
	Groups      []string
	Permissions []string
	// AuthSessionID is set when the credential was a session cookie/header,
	// so WS logout propagation can match on it (§4.3, §4.7).
	AuthSessionID string
}

// ValidationOutcome is the tagged result of one TokenValidator attempt.
type ValidationOutcome int

const (
	// ValidationSkip means this validator doesn't recognize the credential
	// shape; the evaluator should try the next validator in priority order.
	ValidationSkip ValidationOutcome = iota
	ValidationOK
	ValidationRejected
)

// ValidationResult is what a TokenValidator returns.
type ValidationResult struct {
	Outcome  ValidationOutcome
	Identity Identity
	Reason   string // populated when Outcome == ValidationRejected
}

// Credential is the extracted inbound credential, tagged by its source so a
// TokenValidator can decide quickly whether it applies (§4.3 step 2/3).
type CredentialKind int

const (
	CredentialSessionCookie CredentialKind = iota
	CredentialBearerJWS
	CredentialAPIKey
	CredentialAPIKeyID
	CredentialSessionHeader
)

type Credential struct {
	Kind  CredentialKind
	Value string
}

// TokenValidator is one pluggable validation provider, tried in descending
// priority order; the first non-Skip result wins (§4.3 step 3).
type TokenValidator interface {
	// Priority orders validators highest-first.
	Priority() int
	Validate(ctx context.Context, cred Credential) (ValidationResult, error)
}

// ForwardedBuilder produces the forwarding header set described in §4.4.
type ForwardedBuilder interface {
	// Build returns the header name and the value to append (RFC 7239
	// "Forwarded" mode) or the full X-Forwarded-* header set (legacy mode).
	Build(clientIP, proto, host string, existing map[string][]string) map[string][]string
}
