package format

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is a compiled include or exclude glob.
// Patterns without a separator match against the file name, all others against the path relative to the tree root.
type Pattern struct {
	glob     glob.Glob
	basename bool
}

// CompileGlobs prepares the globs. `*` does not cross a `/`, `**` does.
func CompileGlobs(patterns []string) ([]Pattern, error) {
	globs := make([]Pattern, len(patterns))

	for i, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern '%v': %w", p, err)
		}

		globs[i] = Pattern{
			glob:     g,
			basename: !strings.Contains(p, "/"),
		}
	}

	return globs, nil
}

// PathMatches reports whether relPath matches any of the globs.
func PathMatches(relPath string, globs []Pattern) bool {
	relPath = filepath.ToSlash(relPath)
	name := path.Base(relPath)

	for idx := range globs {
		if globs[idx].basename && globs[idx].glob.Match(name) {
			return true
		} else if !globs[idx].basename && globs[idx].glob.Match(relPath) {
			return true
		}
	}

	return false
}
