// Package blueprint loads app blueprints from config/blueprints/*.yaml:
// the required and public services a compose bundle must declare, and the
// named actions (command lists run inside a service container) the state
// machine resolves action(name) against.
package blueprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
)

// Action is a named command run inside a service container, e.g.
// post_create, post_run, post_rebuild, or an operator-triggered action.
type Action struct {
	Service string   `yaml:"service"`
	Command []string `yaml:"command"`
	TTY     bool     `yaml:"tty"`
}

// Blueprint constrains and augments an app's compose bundle.
type Blueprint struct {
	Name             string            `yaml:"-"`
	RequiredServices []string          `yaml:"required_services"`
	PublicServices   []string          `yaml:"public_services"`
	Actions          map[string]Action `yaml:"actions"`
}

// Action looks up a named action, returning NotFound if undeclared.
func (b Blueprint) Action(name string) (Action, error) {
	a, ok := b.Actions[name]
	if !ok {
		return Action{}, apierr.NotFoundf("blueprint %s has no action %q", b.Name, name)
	}
	return a, nil
}

// PostAction returns the lifecycle hook action for a transition kind
// ("post_create", "post_run", "post_rebuild"), ok=false if undeclared
// (lifecycle hooks are optional; a missing hook is a no-op, not an error).
func (b Blueprint) PostAction(hook string) (Action, bool) {
	a, ok := b.Actions[hook]
	return a, ok
}

// Store is the read-mostly, atomically-swappable set of loaded blueprints,
// mirroring the Policy Store's snapshot discipline (spec.md §5).
type Store struct {
	ptr atomic.Pointer[map[string]Blueprint]
}

func NewStore() *Store {
	s := &Store{}
	empty := map[string]Blueprint{}
	s.ptr.Store(&empty)
	return s
}

// Get returns the named blueprint, or NotFound.
func (s *Store) Get(name string) (Blueprint, error) {
	m := *s.ptr.Load()
	b, ok := m[name]
	if !ok {
		return Blueprint{}, apierr.NotFoundf("blueprint %q not found", name)
	}
	return b, nil
}

// Replace atomically swaps in a newly loaded set of blueprints.
func (s *Store) Replace(blueprints map[string]Blueprint) {
	s.ptr.Store(&blueprints)
}

// LoadDir reads every *.yaml file in dir as a blueprint named after its
// filename stem and returns the resulting set, ready for Store.Replace.
func LoadDir(dir string) (map[string]Blueprint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Blueprint{}, nil
		}
		return nil, fmt.Errorf("read blueprints dir: %w", err)
	}

	out := make(map[string]Blueprint)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read blueprint %s: %w", e.Name(), err)
		}
		var b Blueprint
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("parse blueprint %s: %w", e.Name(), err)
		}
		name := e.Name()[:len(e.Name())-len(filepath.Ext(e.Name()))]
		b.Name = name
		out[name] = b
	}
	return out, nil
}
