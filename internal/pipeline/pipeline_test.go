package pipeline

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiegw/gateway/internal/auth"
	"github.com/aussiegw/gateway/internal/config"
	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/ports"
	"github.com/aussiegw/gateway/internal/prepare"
	"github.com/aussiegw/gateway/internal/ratelimit"
	"github.com/aussiegw/gateway/internal/registry"
	"github.com/aussiegw/gateway/internal/transport"
	"github.com/aussiegw/gateway/internal/trustedproxy"
)

type fakeRepo struct{ services []domain.Service }

func (f *fakeRepo) Get(ctx context.Context, id string) (domain.Service, error) {
	for _, s := range f.services {
		if s.ServiceID == id {
			return s, nil
		}
	}
	return domain.Service{}, errors.New("not found")
}
func (f *fakeRepo) List(ctx context.Context) ([]domain.Service, error) { return f.services, nil }
func (f *fakeRepo) Put(ctx context.Context, svc domain.Service) error  { return nil }
func (f *fakeRepo) Delete(ctx context.Context, id string) error        { return nil }

// alwaysValidator authenticates any presented credential as the same
// identity, used to exercise the AUTHENTICATE stage without a real issuer.
type alwaysValidator struct {
	identity ports.Identity
	reject   bool
}

func (alwaysValidator) Priority() int { return 0 }
func (v alwaysValidator) Validate(ctx context.Context, cred ports.Credential) (ports.ValidationResult, error) {
	if v.reject {
		return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "bad credential"}, nil
	}
	return ports.ValidationResult{Outcome: ports.ValidationOK, Identity: v.identity}, nil
}

func usersService(baseURL string) domain.Service {
	return domain.Service{
		ServiceID: "users",
		BaseURL:   baseURL,
		Endpoints: []domain.Endpoint{
			{ID: "get", Path: "/users/{id}", Methods: map[string]bool{"GET": true}, Type: domain.EndpointHTTP, PathRewrite: "/v1/users/{id}"},
			{ID: "admin", Path: "/users/admin", Methods: map[string]bool{"GET": true}, Type: domain.EndpointHTTP, AuthRequired: true, RequiredPermissions: []string{"users:admin"}},
		},
	}
}

func testMinter(t *testing.T) *auth.Minter {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating signing key: %v", err)
	}
	return auth.NewMinter([]auth.SigningKey{{KeyID: "test", PrivateKey: key}}, "aussie-gateway", time.Minute)
}

func newTestPipeline(t *testing.T, svc domain.Service, validator ports.TokenValidator) *Pipeline {
	t.Helper()

	reg, err := registry.New(&fakeRepo{services: []domain.Service{svc}}, nil, registry.Options{RefreshInterval: time.Minute})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	backend := ratelimit.NewMemoryBackend(time.Minute)
	t.Cleanup(backend.Stop)
	rl := ratelimit.NewEngine(backend, domain.EffectiveRateLimit{RequestsPerWindow: 1000, WindowSeconds: 60, BurstCapacity: 1000}, true)

	var validators []ports.TokenValidator
	if validator != nil {
		validators = append(validators, validator)
	}
	evaluator := auth.NewEvaluator(validators, nil, nil)
	minter := testMinter(t)

	return New(
		reg,
		rl,
		evaluator,
		minter,
		trustedproxy.Resolver{},
		prepare.Builder{TrustedProxy: trustedproxy.Resolver{}},
		transport.NewDispatcher(config.TransportConfig{
			ConnectTimeout: time.Second,
			RequestTimeout: 2 * time.Second,
			CircuitBreaker: config.CircuitBreakerConfig{Enabled: false},
		}),
		nil,
		config.AuthConfig{Issuer: "aussie-gateway"},
		config.LimitsConfig{MaxBodySize: 1 << 20},
		config.RateLimitingConfig{IncludeHeaders: true},
		nil, nil, nil, nil,
	)
}

func TestServeHTTPGatewayModeRewritesPath(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := newTestPipeline(t, usersService(upstream.URL), nil)

	req := httptest.NewRequest(http.MethodGet, "/gateway/users/42", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotPath != "/v1/users/42" {
		t.Fatalf("expected rewritten path /v1/users/42, got %q", gotPath)
	}
}

func TestServeHTTPRouteNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be reached for an unmatched route")
	}))
	defer upstream.Close()

	p := newTestPipeline(t, usersService(upstream.URL), nil)

	req := httptest.NewRequest(http.MethodGet, "/gateway/nope", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected problem+json, got %q", ct)
	}
}

func TestServeHTTPMissingCredentialOnProtectedEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be reached without a credential")
	}))
	defer upstream.Close()

	p := newTestPipeline(t, usersService(upstream.URL), alwaysValidator{reject: true})

	req := httptest.NewRequest(http.MethodGet, "/gateway/users/admin", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServeHTTPForbiddenWithoutRequiredPermission(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be reached without the required permission")
	}))
	defer upstream.Close()

	p := newTestPipeline(t, usersService(upstream.URL), alwaysValidator{identity: ports.Identity{Subject: "alice", Permissions: []string{"users:read"}}})

	req := httptest.NewRequest(http.MethodGet, "/gateway/users/admin", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServeHTTPAuthorizedRequestMintsDownstreamToken(t *testing.T) {
	var gotAuthz string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthz = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := newTestPipeline(t, usersService(upstream.URL), alwaysValidator{identity: ports.Identity{Subject: "alice", Permissions: []string{"users:admin"}}})

	req := httptest.NewRequest(http.MethodGet, "/gateway/users/admin", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotAuthz == "" || gotAuthz == "Bearer whatever" {
		t.Fatalf("expected upstream to receive a freshly minted downstream token, got %q", gotAuthz)
	}
}

func TestServeHTTPRateLimitRejectionSetsHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := newTestPipeline(t, usersService(upstream.URL), nil)
	// A one-token bucket: the first request takes the token, so the second is rejected.
	p.rateLimiter = ratelimit.NewEngine(ratelimit.NewMemoryBackend(time.Minute), domain.EffectiveRateLimit{RequestsPerWindow: 1, WindowSeconds: 60, BurstCapacity: 1}, true)

	req1 := httptest.NewRequest(http.MethodGet, "/gateway/users/1", nil)
	rec1 := httptest.NewRecorder()
	p.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/gateway/users/1", nil)
	rec2 := httptest.NewRecorder()
	p.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the second request, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on rate-limited response")
	}
	if rec2.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", rec2.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestServeHTTPPassThroughUnknownService(t *testing.T) {
	p := newTestPipeline(t, usersService("http://unused.internal"), nil)

	req := httptest.NewRequest(http.MethodGet, "/billing/invoices/1", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered pass-through service, got %d", rec.Code)
	}
}

func TestServeHTTPPassThroughKnownService(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := newTestPipeline(t, usersService(upstream.URL), nil)

	req := httptest.NewRequest(http.MethodGet, "/users/raw/tail", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotPath != "/raw/tail" {
		t.Fatalf("expected pass-through tail forwarded verbatim, got %q", gotPath)
	}
}
