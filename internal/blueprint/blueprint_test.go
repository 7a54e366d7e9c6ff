package blueprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePost = `
required_services: ["web", "db"]
public_services: ["web"]
actions:
  post_create:
    service: web
    command: ["migrate"]
  shell:
    service: web
    command: ["/bin/sh"]
    tty: true
`

func TestLoadDir_NamesBlueprintAfterFileStem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wordpress.yaml"), []byte(samplePost), 0o640))

	blueprints, err := LoadDir(dir)
	require.NoError(t, err)
	require.Contains(t, blueprints, "wordpress")
	assert.Equal(t, "wordpress", blueprints["wordpress"].Name)
	assert.Equal(t, []string{"web", "db"}, blueprints["wordpress"].RequiredServices)
}

func TestLoadDir_EmptyWhenDirMissing(t *testing.T) {
	blueprints, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, blueprints)
}

func TestBlueprint_ActionNotFound(t *testing.T) {
	b := Blueprint{Name: "demo", Actions: map[string]Action{}}
	_, err := b.Action("missing")
	assert.Error(t, err)
}

func TestBlueprint_PostActionOptional(t *testing.T) {
	b := Blueprint{Name: "demo", Actions: map[string]Action{
		"post_create": {Service: "web", Command: []string{"migrate"}},
	}}

	action, ok := b.PostAction("post_create")
	assert.True(t, ok)
	assert.Equal(t, "web", action.Service)

	_, ok = b.PostAction("post_rebuild")
	assert.False(t, ok, "an undeclared lifecycle hook is a no-op, not an error")
}

func TestStore_GetAfterReplace(t *testing.T) {
	s := NewStore()
	s.Replace(map[string]Blueprint{"demo": {Name: "demo"}})

	b, err := s.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", b.Name)

	_, err = s.Get("missing")
	assert.Error(t, err)
}
