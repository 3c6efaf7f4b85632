package auth

import (
	"context"
	"sort"

	"github.com/aussiegw/gateway/internal/ports"
)

// Evaluator runs the §4.3 authentication decision for an already-extracted
// credential: it tries each configured ports.TokenValidator in descending
// priority order and expands the resulting identity's roles/groups into a
// permission set. RequiredPermissions are checked separately, by
// HasAllPermissions.
type Evaluator struct {
	validators []ports.TokenValidator
	roles      ports.RoleRepository
	groups     ports.GroupRepository
}

// NewEvaluator constructs an Evaluator. validators are sorted once by
// descending Priority().
func NewEvaluator(validators []ports.TokenValidator, roles ports.RoleRepository, groups ports.GroupRepository) *Evaluator {
	sorted := append([]ports.TokenValidator(nil), validators...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })
	return &Evaluator{validators: sorted, roles: roles, groups: groups}
}

// Outcome is the resolved authentication state for one request.
type Outcome struct {
	Authenticated bool
	Identity      ports.Identity
	Reason        string // populated when a credential was present but rejected
}

// AuthenticateRequest runs the full credential-validation chain. Callers
// extract the credential from the request (ExtractCredential) and pass it
// in; when no credential is present, Outcome.Authenticated is false with an
// empty Reason — the caller (internal/pipeline) decides whether that's
// fatal based on the matched endpoint's AuthRequired flag.
func (e *Evaluator) AuthenticateRequest(ctx context.Context, cred ports.Credential, present bool) (Outcome, error) {
	if !present {
		return Outcome{Authenticated: false}, nil
	}

	for _, v := range e.validators {
		result, err := v.Validate(ctx, cred)
		if err != nil {
			return Outcome{}, err
		}
		switch result.Outcome {
		case ports.ValidationSkip:
			continue
		case ports.ValidationRejected:
			return Outcome{Authenticated: false, Reason: result.Reason}, nil
		case ports.ValidationOK:
			identity, err := e.expand(ctx, result.Identity)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Authenticated: true, Identity: identity}, nil
		}
	}

	return Outcome{Authenticated: false, Reason: "no validator recognized credential"}, nil
}

// expand resolves an identity's Groups into additional Roles, then Roles
// into Permissions, merging with anything already set directly on the
// identity (e.g. claims embedded in a bearer token).
func (e *Evaluator) expand(ctx context.Context, identity ports.Identity) (ports.Identity, error) {
	roles := append([]string(nil), identity.Roles...)

	if e.groups != nil {
		for _, g := range identity.Groups {
			extra, err := e.groups.RolesForGroup(ctx, g)
			if err != nil {
				return identity, err
			}
			roles = appendUnique(roles, extra...)
		}
	}

	perms := append([]string(nil), identity.Permissions...)
	if e.roles != nil {
		for _, role := range roles {
			extra, err := e.roles.PermissionsForRole(ctx, role)
			if err != nil {
				return identity, err
			}
			perms = appendUnique(perms, extra...)
		}
	}

	identity.Roles = roles
	identity.Permissions = perms
	return identity, nil
}

func appendUnique(base []string, items ...string) []string {
	seen := make(map[string]bool, len(base))
	for _, b := range base {
		seen[b] = true
	}
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			base = append(base, it)
		}
	}
	return base
}

// HasAllPermissions reports whether identity carries every permission in
// required (§4.3 step 4).
func HasAllPermissions(identity ports.Identity, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(identity.Permissions))
	for _, p := range identity.Permissions {
		have[p] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}
