package composedir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnoreMatcher_AlwaysExcludesGitAndMetadata(t *testing.T) {
	m := NewIgnoreMatcher(nil)
	assert.True(t, m.Excludes(".git/config"))
	assert.True(t, m.Excludes(".DS_Store"))
	assert.True(t, m.Excludes("nested/Thumbs.db"))
	assert.False(t, m.Excludes("docker-compose.yml"))
}

func TestIgnoreMatcher_CustomPatterns(t *testing.T) {
	m := NewIgnoreMatcher([]string{"*.log", "tmp/"})
	assert.True(t, m.Excludes("debug.log"))
	assert.True(t, m.Excludes("tmp/scratch"))
	assert.False(t, m.Excludes("app.py"))
}

func TestIgnoreMatcher_FilterPathsPreservesOrder(t *testing.T) {
	m := NewIgnoreMatcher([]string{"*.log"})
	in := []string{"a.txt", "b.log", "c.txt"}
	assert.Equal(t, []string{"a.txt", "c.txt"}, m.FilterPaths(in))
}
