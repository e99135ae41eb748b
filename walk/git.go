package walk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"
)

// GitWalker emits the files tracked in the git index, which is what pre-commit itself operates on.
type GitWalker struct {
	root     string
	repoRoot string
	log      *log.Logger
	repo     *git.Repository
}

func (g *GitWalker) Root() string {
	return g.root
}

func (g *GitWalker) Walk(ctx context.Context, path string, fn WalkFunc) error {
	gitIndex, err := g.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to open git index: %w", err)
	}

	dir := filepath.Clean(filepath.Join(g.root, path))

	// index entries are relative to the repository root
	prefix, err := filepath.Rel(g.repoRoot, dir)
	if err != nil {
		return fmt.Errorf("failed to find repository relative path for %v: %w", dir, err)
	}

	prefix = filepath.ToSlash(prefix)
	if prefix == "." {
		prefix = ""
	} else {
		prefix += "/"
	}

	names := make([]string, 0, len(gitIndex.Entries))

	for _, entry := range gitIndex.Entries {
		// we only want regular files, not directories, symlinks or submodules
		if entry.Mode == filemode.Dir || entry.Mode == filemode.Symlink || entry.Mode == filemode.Submodule {
			continue
		}

		if !strings.HasPrefix(entry.Name, prefix) || skipped(entry.Name) {
			continue
		}

		names = append(names, entry.Name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck
		}

		path := filepath.Join(g.repoRoot, filepath.FromSlash(name))

		info, err := os.Lstat(path)
		if os.IsNotExist(err) {
			// the underlying file might have been removed without the change being staged yet
			g.log.Warnf("Path %s is in the index but appears to have been removed from the filesystem", path)

			continue
		} else if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		relPath, err := filepath.Rel(g.root, path)
		if err != nil {
			return fmt.Errorf("failed to determine a relative path for %s: %w", path, err)
		}

		if err = fn(&File{
			Path:    path,
			RelPath: relPath,
			Info:    info,
		}); err != nil {
			return err
		}
	}

	return nil
}

func skipped(name string) bool {
	for _, component := range strings.Split(name, "/") {
		if skipDir(component) {
			return true
		}
	}

	return false
}

// NewGit opens the git repository containing root.
func NewGit(root string) (*GitWalker, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open git worktree: %w", err)
	}

	repoRoot, err := resolvePath(wt.Filesystem.Root())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git worktree root: %w", err)
	}

	return &GitWalker{
		root:     root,
		repoRoot: repoRoot,
		log:      log.WithPrefix("walk[git]"),
		repo:     repo,
	}, nil
}
