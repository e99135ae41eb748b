package walk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

type Type int

const (
	Auto Type = iota
	Filesystem
	Git
)

var ErrOutsideRoot = errors.New("path is not inside the tree root")

// SkipDirs are directory names never descended into when scanning.
// _build and _opam hold copies of dune files generated by dune and opam.
var SkipDirs = []string{".git", "_build", "_opam"}

func (t Type) String() string {
	switch t {
	case Auto:
		return "auto"
	case Filesystem:
		return "filesystem"
	case Git:
		return "git"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

func TypeString(s string) (Type, error) {
	for _, t := range []Type{Auto, Filesystem, Git} {
		if t.String() == s {
			return t, nil
		}
	}

	return Auto, fmt.Errorf("%s does not belong to Type values", s)
}

// File represents a candidate target file.
type File struct {
	Path    string
	RelPath string
	// Info is the result of os.Lstat when the file was enumerated, nil if that failed.
	Info fs.FileInfo
	// Explicit is true if the file was named on the command line rather than found by scanning a directory.
	Explicit bool
}

func (f *File) String() string {
	return f.Path
}

type WalkFunc func(file *File) error

// Walker scans a directory within its root for regular files.
type Walker interface {
	Root() string
	// Walk calls fn for every regular file beneath path, in lexical order. path is relative to Root.
	Walk(ctx context.Context, path string, fn WalkFunc) error
}

//nolint:ireturn
func New(walkType Type, root string) (Walker, error) {
	root, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("error resolving tree root: %w", err)
	}

	switch walkType {
	case Auto:
		// for now, we keep it simple and try git first, filesystem second
		w, err := NewGit(root)
		if err == nil {
			return w, nil
		}

		log.Debugf("falling back to filesystem walk: %v", err)

		return NewFilesystem(root), nil
	case Filesystem:
		return NewFilesystem(root), nil
	case Git:
		return NewGit(root)
	default:
		return nil, fmt.Errorf("unknown walk type: %v", walkType)
	}
}

// Paths turns command line arguments into files, preserving their order.
// Files are passed through as given, even if they do not exist, so that the caller can report them. Directories are
// scanned with a Walker of the given type. If paths is empty and all is set, the tree root is scanned instead.
func Paths(ctx context.Context, walkType Type, root string, paths []string, all bool, fn WalkFunc) error {
	if len(paths) == 0 && !all {
		return nil
	}

	root, err := resolvePath(root)
	if err != nil {
		return fmt.Errorf("error resolving tree root: %w", err)
	}

	var walker Walker

	// walkers are only created on demand, most hook invocations only contain files
	walkDir := func(relPath string) error {
		if walker == nil {
			if walker, err = New(walkType, root); err != nil {
				return fmt.Errorf("failed to create walker: %w", err)
			}
		}

		return walker.Walk(ctx, relPath, fn)
	}

	if len(paths) == 0 {
		return walkDir("")
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck
		}

		absPath, relPath, err := relativeTo(root, path)
		if err != nil {
			return err
		}

		info, statErr := os.Lstat(absPath)
		if statErr == nil && info.IsDir() {
			if err = walkDir(relPath); err != nil {
				return err
			}

			continue
		} else if statErr != nil {
			log.Debugf("failed to stat %s: %v", path, statErr)
		}

		if err = fn(&File{Path: absPath, RelPath: relPath, Info: info, Explicit: true}); err != nil {
			return err
		}
	}

	return nil
}

func relativeTo(root string, path string) (string, string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("error computing absolute path of %s: %w", path, err)
	}

	// resolve symlinks in the parent directory only, the file itself may not exist or may be a symlink
	if dir, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(dir, filepath.Base(absPath))
	}

	relPath, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", "", fmt.Errorf("error computing relative path from %s to %s: %w", root, absPath, err)
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s (tree root: %s)", ErrOutsideRoot, path, root)
	}

	if relPath == "." {
		relPath = ""
	}

	return absPath, relPath, nil
}

func skipDir(name string) bool {
	for _, skip := range SkipDirs {
		if name == skip {
			return true
		}
	}

	return false
}

// Resolve a path to an absolute path, resolving any symlinks along the way.
func resolvePath(path string) (string, error) {
	absolutePath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("error computing absolute path of %s: %w", path, err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		return "", fmt.Errorf("path %s not found: %w", absolutePath, err)
	}

	return resolvedPath, nil
}
