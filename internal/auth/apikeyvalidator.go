package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/aussiegw/gateway/internal/ports"
)

// APIKeyValidator resolves X-API-Key / X-API-Key-Id credentials against a
// ports.ApiKeyRepository, grounded on the teacher's
// internal/middleware/auth/keymanager.go Authenticate: the raw key is never
// stored, only its SHA-256 hash. A revoked key is rejected with its own
// Reason, distinct from "not found"; both are ValidationRejected outcomes.
type APIKeyValidator struct {
	repo ports.ApiKeyRepository
}

// NewAPIKeyValidator constructs an APIKeyValidator.
func NewAPIKeyValidator(repo ports.ApiKeyRepository) *APIKeyValidator {
	return &APIKeyValidator{repo: repo}
}

// Priority implements ports.TokenValidator.
func (v *APIKeyValidator) Priority() int { return 50 }

// Validate implements ports.TokenValidator.
func (v *APIKeyValidator) Validate(ctx context.Context, cred ports.Credential) (ports.ValidationResult, error) {
	if cred.Kind != ports.CredentialAPIKey && cred.Kind != ports.CredentialAPIKeyID {
		return ports.ValidationResult{Outcome: ports.ValidationSkip}, nil
	}

	hash := hashKey(cred.Value)
	rec, err := v.repo.FindByHash(ctx, hash)
	if err != nil {
		if err == ports.ErrNotFound {
			return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "invalid api key"}, nil
		}
		return ports.ValidationResult{}, err
	}

	if rec.Revoked {
		return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "api key revoked"}, nil
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "api key expired"}, nil
	}

	return ports.ValidationResult{
		Outcome: ports.ValidationOK,
		Identity: ports.Identity{
			Subject: rec.ClientID,
			Roles:   rec.Roles,
		},
	}, nil
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
