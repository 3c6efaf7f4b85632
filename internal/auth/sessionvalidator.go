package auth

import (
	"context"
	"time"

	"github.com/aussiegw/gateway/internal/ports"
)

// SessionValidator resolves session cookie/header credentials against a
// ports.SessionRepository. It runs at the highest priority since a session
// lookup is authoritative over the other schemes.
type SessionValidator struct {
	repo ports.SessionRepository
}

// NewSessionValidator constructs a SessionValidator.
func NewSessionValidator(repo ports.SessionRepository) *SessionValidator {
	return &SessionValidator{repo: repo}
}

// Priority implements ports.TokenValidator.
func (v *SessionValidator) Priority() int { return 100 }

// Validate implements ports.TokenValidator.
func (v *SessionValidator) Validate(ctx context.Context, cred ports.Credential) (ports.ValidationResult, error) {
	if cred.Kind != ports.CredentialSessionCookie && cred.Kind != ports.CredentialSessionHeader {
		return ports.ValidationResult{Outcome: ports.ValidationSkip}, nil
	}

	rec, err := v.repo.Find(ctx, cred.Value)
	if err != nil {
		if err == ports.ErrNotFound {
			return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "session not found"}, nil
		}
		return ports.ValidationResult{}, err
	}

	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return ports.ValidationResult{Outcome: ports.ValidationRejected, Reason: "session expired"}, nil
	}

	return ports.ValidationResult{
		Outcome: ports.ValidationOK,
		Identity: ports.Identity{
			Subject:       rec.UserID,
			Roles:         rec.Roles,
			Groups:        rec.Groups,
			AuthSessionID: rec.AuthSessionID,
		},
	}, nil
}
