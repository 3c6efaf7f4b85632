package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/aussiegw/gateway/internal/ports"
)

// JWKSValidator validates bearer JWS credentials issued by an external
// identity provider whose signing keys are published at a JWKS endpoint. It
// is the remote counterpart to JWTValidator's locally-minted-key path,
// grounded directly on the teacher's internal/middleware/auth/jwks.go
// JWKSProvider: the same jwk.NewCache/Register/Refresh auto-refresh setup,
// with its KeyFunc wired into golang-jwt/jwt/v5's Parse exactly as the
// teacher's own JWTAuth does for its static-key path.
type JWKSValidator struct {
	cache    *jwk.Cache
	jwksURL  string
	issuer   string
	audience string
}

// NewJWKSValidator constructs a JWKSValidator and registers the JWKS URL
// with an auto-refreshing cache at the given interval.
func NewJWKSValidator(ctx context.Context, jwksURL, issuer, audience string, refresh time.Duration) (*JWKSValidator, error) {
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("auth: registering jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("auth: initial jwks fetch: %w", err)
	}
	return &JWKSValidator{cache: cache, jwksURL: jwksURL, issuer: issuer, audience: audience}, nil
}

// Priority implements ports.TokenValidator. It runs after the locally-issued
// JWTValidator so a token with a recognized local kid is never round-tripped
// through a remote-key lookup.
func (v *JWKSValidator) Priority() int { return 60 }

// keyFunc resolves a token's "kid" header against the cached JWKS, falling
// back to the set's sole key when there's exactly one and no kid is given.
func (v *JWKSValidator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		keySet, err := v.cache.Get(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("fetching jwks: %w", err)
		}

		kid, _ := token.Header["kid"].(string)
		var key jwk.Key
		var found bool
		if kid != "" {
			key, found = keySet.LookupKeyID(kid)
		} else if keySet.Len() == 1 {
			key, found = keySet.Key(0)
		}
		if !found {
			return nil, fmt.Errorf("no matching jwks key for kid %q", kid)
		}

		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("extracting raw key: %w", err)
		}
		return raw, nil
	}
}

// Validate implements ports.TokenValidator.
func (v *JWKSValidator) Validate(ctx context.Context, cred ports.Credential) (ports.ValidationResult, error) {
	if cred.Kind != ports.CredentialBearerJWS {
		return ports.ValidationResult{Outcome: ports.ValidationSkip}, nil
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(cred.Value, v.keyFunc(ctx), parserOpts...)
	if err != nil || !token.Valid {
		return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "invalid jwks-verified token"}, nil
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
