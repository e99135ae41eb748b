package walk_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/numtide/dunefmt/test"
	"github.com/numtide/dunefmt/walk"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, walkType walk.Type, root string, paths []string, all bool) ([]*walk.File, error) {
	t.Helper()

	var files []*walk.File

	err := walk.Paths(context.Background(), walkType, root, paths, all, func(file *walk.File) error {
		files = append(files, file)

		return nil
	})

	return files, err
}

func relPaths(files []*walk.File) []string {
	result := make([]string, len(files))
	for i, file := range files {
		result[i] = file.RelPath
	}

	return result
}

func TestTypeString(t *testing.T) {
	as := require.New(t)

	for _, typ := range []walk.Type{walk.Auto, walk.Filesystem, walk.Git} {
		parsed, err := walk.TypeString(typ.String())
		as.NoError(err)
		as.Equal(typ, parsed)
	}

	_, err := walk.TypeString("jujutsu")
	as.Error(err)
}

func TestPathsEmpty(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)

	files, err := collect(t, walk.Filesystem, tempDir, nil, false)
	as.NoError(err)
	as.Empty(files)
}

func TestPathsPreservesOrder(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)
	test.ChangeWorkDir(t, tempDir)

	paths := []string{"vendor/parser/dune", "dune-project", "lib/dune", "bin/dune"}

	files, err := collect(t, walk.Filesystem, tempDir, paths, false)
	as.NoError(err)
	as.Equal(paths, relPaths(files))

	for _, file := range files {
		as.True(filepath.IsAbs(file.Path))
		as.NotNil(file.Info)
		as.True(file.Explicit)
	}
}

func TestPathsMissingFile(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)
	test.ChangeWorkDir(t, tempDir)

	files, err := collect(t, walk.Filesystem, tempDir, []string{"lib/dune", "missing/dune"}, false)
	as.NoError(err)
	as.Equal([]string{"lib/dune", "missing/dune"}, relPaths(files))
	as.NotNil(files[0].Info)
	as.Nil(files[1].Info, "missing files are passed through for the caller to report")
}

func TestPathsOutsideRoot(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)
	test.ChangeWorkDir(t, filepath.Join(tempDir, "lib"))

	_, err := collect(t, walk.Filesystem, filepath.Join(tempDir, "lib"), []string{"../bin/dune"}, false)
	as.ErrorIs(err, walk.ErrOutsideRoot)
}

func TestPathsRelativeToSubdirectory(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)
	test.ChangeWorkDir(t, filepath.Join(tempDir, "lib"))

	files, err := collect(t, walk.Filesystem, tempDir, []string{"dune"}, false)
	as.NoError(err)
	as.Equal([]string{"lib/dune"}, relPaths(files))
}

func TestFilesystemScan(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)
	test.ChangeWorkDir(t, tempDir)

	t.Run("all", func(t *testing.T) {
		files, err := collect(t, walk.Filesystem, tempDir, nil, true)
		require.NoError(t, err)
		require.Equal(t, test.ExamplesPaths, relPaths(files))
	})

	t.Run("directory argument", func(t *testing.T) {
		files, err := collect(t, walk.Filesystem, tempDir, []string{"vendor", "lib/dune"}, false)
		require.NoError(t, err)
		require.Equal(t, []string{"vendor/parser/dune", "vendor/parser/parser.mly", "lib/dune"}, relPaths(files))

		// only lib/dune was named, the others were found by scanning
		require.False(t, files[0].Explicit)
		require.False(t, files[1].Explicit)
		require.True(t, files[2].Explicit)
	})

	t.Run("skipped directory passed explicitly", func(t *testing.T) {
		files, err := collect(t, walk.Filesystem, tempDir, []string{"_build"}, false)
		require.NoError(t, err)
		require.Equal(t, []string{"_build/default/lib/dune"}, relPaths(files))
	})

	t.Run("symlinks are ignored", func(t *testing.T) {
		as.NoError(os.Symlink(filepath.Join(tempDir, "lib", "dune"), filepath.Join(tempDir, "bin", "link")))

		files, err := collect(t, walk.Filesystem, tempDir, []string{"bin"}, false)
		require.NoError(t, err)
		require.Equal(t, []string{"bin/dune", "bin/main.ml"}, relPaths(files))
	})
}

func TestCancelled(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := walk.Paths(ctx, walk.Filesystem, tempDir, nil, true, func(_ *walk.File) error {
		return nil
	})
	as.ErrorIs(err, context.Canceled)
}

func removeFile(dir string, name string) error {
	return os.Remove(filepath.Join(dir, name))
}
