package identity

import (
	"strings"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/model"
)

// Resolver resolves a bearer credential to a Principal, trying the static
// bearer table first and the OAuth session store second — a token minted
// by OAuthSessions.Issue never collides with a configured static token
// because the two are drawn from disjoint keyspaces (JWTs vs opaque
// strings), so the "first to recognize it wins" order is safe.
type Resolver struct {
	bearer *BearerTable
	oauth  *OAuthSessions
	policy *Store
}

func NewResolver(bearer *BearerTable, oauth *OAuthSessions, policy *Store) *Resolver {
	return &Resolver{bearer: bearer, oauth: oauth, policy: policy}
}

// Resolve implements spec.md §4.1's resolve(credential) operation.
func (r *Resolver) Resolve(credential string) (model.Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return model.Principal{}, apierr.New(apierr.Unauthenticated, "missing credential")
	}
	if r.bearer != nil {
		if p, err := r.bearer.Resolve(credential); err == nil {
			return p, nil
		}
	}
	if r.oauth != nil {
		if p, err := r.oauth.Resolve(credential); err == nil {
			return p, nil
		}
	}
	return model.Principal{}, apierr.New(apierr.Unauthenticated, "credential not recognized")
}

// Authorize implements spec.md §4.1's authorize(principal, permission, scope)
// against the currently published policy snapshot.
func (r *Resolver) Authorize(principal model.Principal, perm model.Permission, scope string) error {
	snapshot := r.policy.Snapshot()
	if snapshot == nil {
		return apierr.New(apierr.Internal, "policy not loaded")
	}
	return snapshot.Authorize(principal, perm, scope)
}
