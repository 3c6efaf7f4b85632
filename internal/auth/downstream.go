package auth

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussiegw/gateway/internal/domain"
)

// SigningKey is one entry in a gateway signing keyring: a private key and
// the "kid" its public counterpart is published under.
type SigningKey struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// Minter mints the downstream "Aussie token" attached to every proxied
// request (§4.3 step 5): an RS256 JWT asserting the caller's identity and
// expanded permissions, signed with the currently active key. Grounded on
// the teacher's token-generation shape in
// internal/middleware/auth/jwt.go's GenerateToken, generalized from the
// teacher's single static HMAC secret to an RS256 keyring whose active key
// rotates without invalidating tokens signed moments earlier (the keyring's
// other keys still validate against JWTValidator's Keyring; minting always
// uses the first/active entry).
type Minter struct {
	keyring []SigningKey
	issuer  string
	ttl     time.Duration
}

// NewMinter constructs a Minter. keyring's first element is the active
// signing key; any additional elements exist only so JWTValidator can still
// verify tokens minted moments before a rotation.
func NewMinter(keyring []SigningKey, issuer string, ttl time.Duration) *Minter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Minter{keyring: keyring, issuer: issuer, ttl: ttl}
}

// Mint produces a signed Aussie token for the given claims.
func (m *Minter) Mint(claims domain.DownstreamTokenClaims) (string, error) {
	if len(m.keyring) == 0 {
		return "", errNoSigningKey
	}
	active := m.keyring[0]

	now := time.Now()
	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = now
	}
	expiresAt := claims.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(m.ttl)
	}

	mc := jwt.MapClaims{
		"sub": claims.Subject,
		"iss": firstNonEmpty(claims.Issuer, m.issuer),
		"iat": issuedAt.Unix(),
		"exp": expiresAt.Unix(),
	}
	if claims.Audience != "" {
		mc["aud"] = claims.Audience
	}
	if len(claims.Permissions) > 0 {
		mc["permissions"] = claims.Permissions
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	token.Header["kid"] = active.KeyID
	return token.SignedString(active.PrivateKey)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

type mintError string

func (e mintError) Error() string { return string(e) }

const errNoSigningKey = mintError("auth: no signing key configured")

// StaticKeyring is a Keyring backed by an in-memory kid→public-key map,
// populated from the same SigningKey list the Minter signs with.
type StaticKeyring struct {
	keys map[string]*rsa.PublicKey
}

// NewStaticKeyring builds a StaticKeyring from a signing keyring.
func NewStaticKeyring(keyring []SigningKey) *StaticKeyring {
	keys := make(map[string]*rsa.PublicKey, len(keyring))
	for _, k := range keyring {
		keys[k.KeyID] = &k.PrivateKey.PublicKey
	}
	return &StaticKeyring{keys: keys}
}

// PublicKey implements Keyring.
func (r *StaticKeyring) PublicKey(kid string) (any, bool) {
	k, ok := r.keys[kid]
	return k, ok
}
