package walk

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/charmbracelet/log"
)

type FilesystemWalker struct {
	root string
	log  *log.Logger
}

func (f *FilesystemWalker) Root() string {
	return f.root
}

func (f *FilesystemWalker) Walk(ctx context.Context, path string, fn WalkFunc) error {
	start := filepath.Join(f.root, path)

	err := filepath.WalkDir(start, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("error walking %s: %w", path, err)
		}

		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck
		}

		if entry.IsDir() {
			if path != start && skipDir(entry.Name()) {
				f.log.Debugf("skipping directory %s", path)

				return filepath.SkipDir
			}

			return nil
		}

		// we only want regular files, not symlinks, sockets etc.
		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		relPath, err := filepath.Rel(f.root, path)
		if err != nil {
			return fmt.Errorf("failed to determine a relative path for %s: %w", path, err)
		}

		return fn(&File{
			Path:    path,
			RelPath: relPath,
			Info:    info,
		})
	})

	return err //nolint:wrapcheck
}

func NewFilesystem(root string) *FilesystemWalker {
	return &FilesystemWalker{
		root: root,
		log:  log.WithPrefix("walk[filesystem]"),
	}
}
