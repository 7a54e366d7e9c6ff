package composedir

import (
	gitignore "github.com/sabhiram/go-gitignore"
)

// alwaysExcluded matches paths an upload bundle must never include,
// regardless of .scottyignore content (spec.md §6: "`.git/` and OS
// metadata files are always excluded").
var alwaysExcluded = []string{
	".git/",
	".git",
	".DS_Store",
	"Thumbs.db",
	"__MACOSX/",
}

// IgnoreMatcher filters an app upload bundle against .scottyignore plus the
// always-excluded set.
type IgnoreMatcher struct {
	compiled *gitignore.GitIgnore
}

// NewIgnoreMatcher compiles patterns (the .scottyignore contents, one
// pattern per line, may be empty) together with the always-excluded set.
func NewIgnoreMatcher(patterns []string) *IgnoreMatcher {
	lines := make([]string, 0, len(patterns)+len(alwaysExcluded))
	lines = append(lines, alwaysExcluded...)
	lines = append(lines, patterns...)
	return &IgnoreMatcher{compiled: gitignore.CompileIgnoreLines(lines...)}
}

// Excludes reports whether relPath (slash-separated, relative to the
// bundle root) should be dropped from the upload.
func (m *IgnoreMatcher) Excludes(relPath string) bool {
	return m.compiled.MatchesPath(relPath)
}

// FilterPaths returns the subset of paths not excluded, preserving order.
func (m *IgnoreMatcher) FilterPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !m.Excludes(p) {
			out = append(out, p)
		}
	}
	return out
}
