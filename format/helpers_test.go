package format_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/numtide/dunefmt/config"
	"github.com/numtide/dunefmt/format"
	"github.com/numtide/dunefmt/walk"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/expand"
)

var spaces = regexp.MustCompile(` +`)

// fakeDune mimics `dune format-dune-file` without running a process: runs of spaces are squeezed and files containing
// MALFORMED are rejected.
type fakeDune struct {
	dir     string
	inPlace bool
	err     error

	mu    sync.Mutex
	calls []string
}

func (f *fakeDune) Invoke(_ context.Context, _ string, args ...string) (*format.Output, error) {
	path := args[len(args)-1]

	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	if path == "--version" {
		return &format.Output{Stdout: []byte("3.16.0\n")}, nil
	}

	content, err := os.ReadFile(filepath.Join(f.dir, path))
	if err != nil {
		return &format.Output{Stderr: []byte(err.Error()), ExitCode: 1}, nil
	}

	if bytes.Contains(content, []byte("MALFORMED")) {
		return &format.Output{
			Stderr:   []byte("File \"" + path + "\", line 1, characters 0-9:\nError: Invalid dune file\n"),
			ExitCode: 1,
		}, nil
	}

	formatted := spaces.ReplaceAll(content, []byte(" "))

	if f.inPlace {
		if err = os.WriteFile(filepath.Join(f.dir, path), formatted, 0o644); err != nil {
			return nil, err
		}

		return &format.Output{}, nil
	}

	return &format.Output{Stdout: formatted}, nil
}

func (f *fakeDune) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string{}, f.calls...)
}

// fakeBin creates an executable named command in a temporary directory and returns an environment with only that
// directory on PATH.
func fakeBin(t *testing.T, command string) (string, expand.Environ) {
	t.Helper()

	binPath := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binPath, command), []byte("#!/bin/sh\nexit 0\n"), 0o755)) //nolint:gosec

	return binPath, expand.ListEnviron("PATH=" + binPath)
}

func newFormatter(t *testing.T, root string, cfg *config.Formatter, invoker format.Invoker) *format.Formatter {
	t.Helper()

	_, env := fakeBin(t, cfg.Command)

	f, err := format.NewFormatter(root, env, cfg, invoker)
	require.NoError(t, err)

	return f
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for name, contents := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
}

func readFile(t *testing.T, dir string, name string) string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	return string(b)
}

// targets returns files as if they were named on the command line.
func targets(dir string, names ...string) []*walk.File {
	files := make([]*walk.File, len(names))

	for i, name := range names {
		path := filepath.Join(dir, name)
		info, _ := os.Lstat(path)

		files[i] = &walk.File{
			Path:     path,
			RelPath:  name,
			Info:     info,
			Explicit: true,
		}
	}

	return files
}

func relPaths(results []*format.Result) []string {
	paths := make([]string, len(results))
	for i, res := range results {
		paths[i] = res.File.RelPath
	}

	return paths
}
