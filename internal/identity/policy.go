package identity

import (
	"strings"
	"sync/atomic"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/model"
)

// Policy is an immutable, matcher-based authorization snapshot: assignments
// plus the role definitions they reference. Spec.md §9 calls for the
// global policy state to be encapsulated behind an accessor yielding an
// immutable snapshot, with mutators publishing a new snapshot atomically —
// this is that accessor.
type Policy struct {
	assignments []model.Assignment
	roles       map[string]model.Role
}

func NewPolicy(assignments []model.Assignment, roles []model.Role) *Policy {
	roleMap := make(map[string]model.Role, len(roles))
	for _, r := range roles {
		roleMap[r.Name] = r
	}
	return &Policy{assignments: assignments, roles: roleMap}
}

// match returns every assignment in the highest-precedence tier that
// matches id, by the precedence order in
// spec.md §4.1: exact id, then "@domain" suffix (case-insensitive), then "*".
func (p *Policy) match(id string) []model.Assignment {
	var exact, domain, wildcard []model.Assignment
	lowerID := strings.ToLower(id)
	for _, a := range p.assignments {
		switch {
		case a.Subject == id:
			exact = append(exact, a)
		case strings.HasPrefix(a.Subject, "@") && strings.HasSuffix(lowerID, strings.ToLower(a.Subject)):
			domain = append(domain, a)
		case a.Subject == model.AnyScope:
			wildcard = append(wildcard, a)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	if len(domain) > 0 {
		return domain
	}
	return wildcard
}

// Authorize evaluates (principal, permission, scope) against the snapshot.
func (p *Policy) Authorize(principal model.Principal, perm model.Permission, scope string) error {
	assignments := p.match(principal.ID)
	if len(assignments) == 0 {
		return apierr.New(apierr.Forbidden, "no policy assignment for principal")
	}
	for _, a := range assignments {
		role, ok := p.roles[a.Role]
		if !ok {
			continue
		}
		if !role.Allows(perm) {
			continue
		}
		if a.AllowsScope(scope) {
			return nil
		}
	}
	return apierr.New(apierr.Forbidden, "principal lacks permission in scope").
		WithDetail("permission", string(perm)).WithDetail("scope", scope)
}

// Store holds an atomically-swappable *Policy so in-flight evaluations keep
// using their captured snapshot while a reload publishes a new one.
type Store struct {
	current atomic.Pointer[Policy]
}

func NewStore(initial *Policy) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

func (s *Store) Snapshot() *Policy {
	return s.current.Load()
}

func (s *Store) Replace(p *Policy) {
	s.current.Store(p)
}
