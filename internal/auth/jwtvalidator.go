package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiegw/gateway/internal/ports"
)

// Keyring resolves a JWT's "kid" header to the RSA public key that should
// verify it, supporting zero-downtime key rotation: the currently active
// signing key's public half lives alongside any still-valid previous keys.
type Keyring interface {
	PublicKey(kid string) (any, bool)
}

// JWTValidator validates locally-issued bearer JWS credentials (RS256 only)
// against a Keyring, grounded on the teacher's internal/middleware/auth/jwt.go
// JWTAuth.Authenticate, generalized from a single HMAC/RSA key to
// kid-addressed key rotation and from a flat claims map to
// ports.Identity/RequiredPermissions.
type JWTValidator struct {
	keyring  Keyring
	issuer   string
	audience string
}

// NewJWTValidator constructs a JWTValidator.
func NewJWTValidator(keyring Keyring, issuer, audience string) *JWTValidator {
	return &JWTValidator{keyring: keyring, issuer: issuer, audience: audience}
}

// Priority implements ports.TokenValidator.
func (v *JWTValidator) Priority() int { return 75 }

// Validate implements ports.TokenValidator.
func (v *JWTValidator) Validate(ctx context.Context, cred ports.Credential) (ports.ValidationResult, error) {
	if cred.Kind != ports.CredentialBearerJWS {
		return ports.ValidationResult{Outcome: ports.ValidationSkip}, nil
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		key, ok := v.keyring.PublicKey(kid)
		if !ok {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return key, nil
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(cred.Value, keyFunc, parserOpts...)
	if err != nil || !token.Valid {
		return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "invalid bearer token"}, nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "unreadable claims"}, nil
	}

	subject, _ := claims.GetSubject()
	identity := ports.Identity{Subject: subject}

	if rawRoles, ok := claims["roles"]; ok {
		identity.Roles = toStringSlice(rawRoles)
	}
	if rawGroups, ok := claims["groups"]; ok {
		identity.Groups = toStringSlice(rawGroups)
	}
	if rawPerms, ok := claims["permissions"]; ok {
		identity.Permissions = toStringSlice(rawPerms)
	}

	return ports.ValidationResult{Outcome: ports.ValidationOK, Identity: identity}, nil
}

func toStringSlice(v any) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
