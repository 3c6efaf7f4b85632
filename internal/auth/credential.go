// Package auth implements the authentication/authorization step of spec
// §4.3: credential extraction, pluggable validation (session cookie, bearer
// JWS, API key), permission expansion through role/group repositories, and
// downstream "Aussie token" minting for upstream calls.
//
// Grounded on the teacher's internal/middleware/auth/{jwt,apikey}.go for the
// credential-extraction and validate-then-build-identity shape, generalized
// from the teacher's single-scheme-per-deployment model to the spec's
// multi-validator, priority-ordered evaluation (ports.TokenValidator).
package auth

import (
	"net/http"
	"strings"

	"github.com/aussiegw/gateway/internal/ports"
)

const (
	sessionCookieName = "aussie_session"
	sessionHeaderName = "X-Session-ID"
	apiKeyHeaderName  = "X-API-Key"
	apiKeyIDHeaderName = "X-API-Key-ID"
)

// ExtractCredential inspects a request for one recognized credential shape,
// trying (in order) the session cookie, the Authorization bearer header,
// the API key header, and the session/API-key-ID headers used by
// WebSocket-upgrade requests that cannot set arbitrary headers with cookies
// disabled. It returns ok=false when nothing is present.
func ExtractCredential(r *http.Request) (ports.Credential, bool) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return ports.Credential{Kind: ports.CredentialSessionCookie, Value: c.Value}, true
	}

	if authz := r.Header.Get("Authorization"); authz != "" {
		if tok, ok := bearerToken(authz); ok {
			return ports.Credential{Kind: ports.CredentialBearerJWS, Value: tok}, true
		}
	}

	if key := r.Header.Get(apiKeyHeaderName); key != "" {
		return ports.Credential{Kind: ports.CredentialAPIKey, Value: key}, true
	}

	if id := r.Header.Get(apiKeyIDHeaderName); id != "" {
		return ports.Credential{Kind: ports.CredentialAPIKeyID, Value: id}, true
	}

	if sid := r.Header.Get(sessionHeaderName); sid != "" {
		return ports.Credential{Kind: ports.CredentialSessionHeader, Value: sid}, true
	}

	return ports.Credential{}, false
}

func bearerToken(authz string) (string, bool) {
	const prefix = "Bearer "
	if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return authz[len(prefix):], true
	}
	return "", false
}
