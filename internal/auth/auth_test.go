package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiegw/gateway/internal/domain"
	"github.com/aussiegw/gateway/internal/ports"
)

func TestExtractCredentialPrefersSessionCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-1"})
	req.Header.Set("Authorization", "Bearer abc")

	cred, ok := ExtractCredential(req)
	if !ok || cred.Kind != ports.CredentialSessionCookie || cred.Value != "sess-1" {
		t.Fatalf("expected session cookie credential, got %+v ok=%v", cred, ok)
	}
}

func TestExtractCredentialBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer xyz.abc.def")

	cred, ok := ExtractCredential(req)
	if !ok || cred.Kind != ports.CredentialBearerJWS || cred.Value != "xyz.abc.def" {
		t.Fatalf("expected bearer credential, got %+v ok=%v", cred, ok)
	}
}

func TestExtractCredentialNone(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := ExtractCredential(req); ok {
		t.Fatal("expected no credential extracted")
	}
}

type fakeSessionRepo struct {
	rec ports.SessionRecord
	err error
}

func (f fakeSessionRepo) Find(ctx context.Context, id string) (ports.SessionRecord, error) {
	if f.err != nil {
		return ports.SessionRecord{}, f.err
	}
	return f.rec, nil
}

func TestSessionValidatorOK(t *testing.T) {
	repo := fakeSessionRepo{rec: ports.SessionRecord{UserID: "u1", Roles: []string{"admin"}}}
	v := NewSessionValidator(repo)

	res, err := v.Validate(context.Background(), ports.Credential{Kind: ports.CredentialSessionCookie, Value: "sess"})
	if err != nil || res.Outcome != ports.ValidationOK || res.Identity.Subject != "u1" {
		t.Fatalf("expected ok validation, got %+v err=%v", res, err)
	}
}

func TestSessionValidatorSkipsOtherCredentials(t *testing.T) {
	v := NewSessionValidator(fakeSessionRepo{})
	res, err := v.Validate(context.Background(), ports.Credential{Kind: ports.CredentialAPIKey, Value: "k"})
	if err != nil || res.Outcome != ports.ValidationSkip {
		t.Fatalf("expected skip, got %+v err=%v", res, err)
	}
}

func TestSessionValidatorExpired(t *testing.T) {
	repo := fakeSessionRepo{rec: ports.SessionRecord{UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)}}
	v := NewSessionValidator(repo)
	res, _ := v.Validate(context.Background(), ports.Credential{Kind: ports.CredentialSessionCookie, Value: "sess"})
	if res.Outcome != ports.ValidationRejected {
		t.Fatalf("expected rejection for expired session, got %+v", res)
	}
}

type fakeAPIKeyRepo struct {
	byHash map[string]ports.ApiKeyRecord
}

func (f fakeAPIKeyRepo) FindByHash(ctx context.Context, hash string) (ports.ApiKeyRecord, error) {
	rec, ok := f.byHash[hash]
	if !ok {
		return ports.ApiKeyRecord{}, ports.ErrNotFound
	}
	return rec, nil
}

func TestAPIKeyValidatorOK(t *testing.T) {
	raw := "gw_testkey"
	repo := fakeAPIKeyRepo{byHash: map[string]ports.ApiKeyRecord{
		hashKey(raw): {ClientID: "client-a", Roles: []string{"reader"}},
	}}
	v := NewAPIKeyValidator(repo)

	res, err := v.Validate(context.Background(), ports.Credential{Kind: ports.CredentialAPIKey, Value: raw})
	if err != nil || res.Outcome != ports.ValidationOK || res.Identity.Subject != "client-a" {
		t.Fatalf("expected ok, got %+v err=%v", res, err)
	}
}

func TestAPIKeyValidatorRevoked(t *testing.T) {
	raw := "gw_revoked"
	repo := fakeAPIKeyRepo{byHash: map[string]ports.ApiKeyRecord{
		hashKey(raw): {ClientID: "client-a", Revoked: true},
	}}
	v := NewAPIKeyValidator(repo)

	res, _ := v.Validate(context.Background(), ports.Credential{Kind: ports.CredentialAPIKey, Value: raw})
	if res.Outcome != ports.ValidationRejected {
		t.Fatalf("expected rejection for revoked key, got %+v", res)
	}
}

func genRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	return key
}

func TestMintAndValidateRoundTrip(t *testing.T) {
	key := genRSAKey(t)
	signingKey := SigningKey{KeyID: "k1", PrivateKey: key}
	minter := NewMinter([]SigningKey{signingKey}, "aussie-gateway", time.Minute)
	keyring := NewStaticKeyring([]SigningKey{signingKey})
	validator := NewJWTValidator(keyring, "aussie-gateway", "")

	token, err := minter.Mint(domain.DownstreamTokenClaims{
		Subject:     "svc-account",
		Permissions: []string{"orders:read"},
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	res, err := validator.Validate(context.Background(), ports.Credential{Kind: ports.CredentialBearerJWS, Value: token})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Outcome != ports.ValidationOK || res.Identity.Subject != "svc-account" {
		t.Fatalf("expected ok validation round-trip, got %+v", res)
	}
	if len(res.Identity.Permissions) != 1 || res.Identity.Permissions[0] != "orders:read" {
		t.Fatalf("expected permissions to survive round trip, got %+v", res.Identity.Permissions)
	}
}

func TestMintRejectsUnknownKid(t *testing.T) {
	key := genRSAKey(t)
	otherKey := genRSAKey(t)
	minter := NewMinter([]SigningKey{{KeyID: "k1", PrivateKey: key}}, "iss", time.Minute)
	keyring := NewStaticKeyring([]SigningKey{{KeyID: "k2", PrivateKey: otherKey}})
	validator := NewJWTValidator(keyring, "iss", "")

	token, err := minter.Mint(domain.DownstreamTokenClaims{Subject: "x"})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	res, _ := validator.Validate(context.Background(), ports.Credential{Kind: ports.CredentialBearerJWS, Value: token})
	if res.Outcome != ports.ValidationRejected {
		t.Fatalf("expected rejection for unrecognized kid, got %+v", res)
	}
}

type fakeRoleRepo struct{ perms map[string][]string }

func (f fakeRoleRepo) PermissionsForRole(ctx context.Context, role string) ([]string, error) {
	return f.perms[role], nil
}

type fakeGroupRepo struct{ roles map[string][]string }

func (f fakeGroupRepo) RolesForGroup(ctx context.Context, group string) ([]string, error) {
	return f.roles[group], nil
}

func TestEvaluatorExpandsGroupsAndRoles(t *testing.T) {
	roles := fakeRoleRepo{perms: map[string][]string{"admin": {"orders:write", "orders:read"}}}
	groups := fakeGroupRepo{roles: map[string][]string{"ops": {"admin"}}}

	sessions := fakeSessionRepo{rec: ports.SessionRecord{UserID: "u1", Groups: []string{"ops"}}}
	ev := NewEvaluator([]ports.TokenValidator{NewSessionValidator(sessions)}, roles, groups)

	outcome, err := ev.AuthenticateRequest(context.Background(), ports.Credential{Kind: ports.CredentialSessionCookie, Value: "s"}, true)
	if err != nil || !outcome.Authenticated {
		t.Fatalf("expected authenticated outcome, got %+v err=%v", outcome, err)
	}
	if !HasAllPermissions(outcome.Identity, []string{"orders:read", "orders:write"}) {
		t.Fatalf("expected expanded permissions, got %+v", outcome.Identity)
	}
}

func TestEvaluatorNoCredentialPresent(t *testing.T) {
	ev := NewEvaluator(nil, nil, nil)
	outcome, err := ev.AuthenticateRequest(context.Background(), ports.Credential{}, false)
	if err != nil || outcome.Authenticated {
		t.Fatalf("expected unauthenticated outcome, got %+v err=%v", outcome, err)
	}
}

func TestHasAllPermissionsMissing(t *testing.T) {
	id := ports.Identity{Permissions: []string{"orders:read"}}
	if HasAllPermissions(id, []string{"orders:read", "orders:write"}) {
		t.Fatal("expected missing permission to fail the check")
	}
}
