package identity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/factorial-io/scotty-sub002/internal/model"
)

// policyFile is the on-disk shape of config/casbin/policy.yaml. The name is
// inherited from the source project's choice of casbin as its policy file
// naming convention; this package implements its own small matcher over
// the same file shape rather than depending on the casbin library itself
// (see DESIGN.md: no example in the retrieved pack exercises casbin, and
// spec.md's matching rules — exact/domain-suffix/wildcard precedence with a
// fixed permission enum — are simple enough not to need a generic policy
// engine).
type policyFile struct {
	Roles []struct {
		Name        string   `yaml:"name"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"roles"`
	Assignments []struct {
		Subject string   `yaml:"subject"`
		Role    string   `yaml:"role"`
		Scopes  []string `yaml:"scopes"`
	} `yaml:"assignments"`
}

// LoadPolicyFile parses config/casbin/policy.yaml into a Policy snapshot.
// A missing or malformed policy file is a startup error: spec.md §4.1 says
// "policy config absent → startup refuses to serve protected endpoints."
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if len(pf.Roles) == 0 {
		return nil, fmt.Errorf("policy file %s declares no roles", path)
	}

	roles := make([]model.Role, 0, len(pf.Roles))
	for _, r := range pf.Roles {
		perms := make(map[model.Permission]bool, len(r.Permissions))
		for _, p := range r.Permissions {
			perms[model.Permission(p)] = true
		}
		roles = append(roles, model.Role{Name: r.Name, Permissions: perms})
	}

	assignments := make([]model.Assignment, 0, len(pf.Assignments))
	for _, a := range pf.Assignments {
		assignments = append(assignments, model.Assignment{
			Subject: a.Subject,
			Role:    a.Role,
			Scopes:  a.Scopes,
		})
	}

	return NewPolicy(assignments, roles), nil
}
