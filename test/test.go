package test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/numtide/dunefmt/config"
	cp "github.com/otiai10/copy"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// FakeDuneScript stands in for dune in tests.
// `dune format-dune-file <path>` prints the file with runs of spaces squeezed, failing for any file containing
// MALFORMED. `dune format-dune-file --version` prints a version.
const FakeDuneScript = `#!/bin/sh
if [ "$1" != "format-dune-file" ]; then
	echo "dune: unknown command $1" >&2
	exit 1
fi
if [ "$2" = "--version" ]; then
	echo "3.16.0"
	exit 0
fi
if grep -q MALFORMED "$2"; then
	echo "File \"$2\", line 1, characters 0-9:" >&2
	echo "Error: Invalid dune file" >&2
	exit 1
fi
tr -s ' ' < "$2"
`

// ExamplesPaths lists the files in the examples directory, relative to its root, in lexical order.
var ExamplesPaths = []string{
	"README.md",
	"bin/dune",
	"bin/main.ml",
	"dune-project",
	"lib/dune",
	"lib/mylib.ml",
	"vendor/parser/dune",
	"vendor/parser/parser.mly",
}

// ExamplesUnformatted lists the dune files in the examples directory which FakeDuneScript will change.
var ExamplesUnformatted = []string{
	"lib/dune",
	"vendor/parser/dune",
}

func WriteConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create a new config file: %v", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err = encoder.Encode(cfg); err != nil {
		t.Fatalf("failed to write to config file: %v", err)
	}
}

func TempExamples(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	TempExamplesInDir(t, tempDir)

	return tempDir
}

func TempExamplesInDir(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, cp.Copy("../test/examples", dir), "failed to copy test data to dir")
}

// WriteFile writes contents to dir/name, creating any parent directories.
func WriteFile(t *testing.T, dir string, name string, contents string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "failed to create parent directory")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644), "failed to write file")

	return path
}

// ReadFile returns the contents of dir/name as a string.
func ReadFile(t *testing.T, dir string, name string) string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err, "failed to read file")

	return string(b)
}

// FakeDune installs FakeDuneScript as `dune` in a temporary bin directory and prepends it to PATH for the duration
// of the test. It returns the bin directory.
func FakeDune(t *testing.T) string {
	t.Helper()

	binPath := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binPath, "dune"), []byte(FakeDuneScript), 0o755)) //nolint:gosec

	t.Setenv("PATH", binPath+string(os.PathListSeparator)+os.Getenv("PATH"))

	return binPath
}

func TempFile(t *testing.T, dir string, pattern string, contents *string) *os.File {
	t.Helper()

	file, err := os.CreateTemp(dir, pattern)
	require.NoError(t, err, "failed to create temp file")

	if contents == nil {
		return file
	}

	_, err = file.WriteString(*contents)
	require.NoError(t, err, "failed to write contents to temp file")
	require.NoError(t, file.Close(), "failed to close temp file")

	file, err = os.Open(file.Name())
	require.NoError(t, err, "failed to open temp file")

	return file
}

// Lutimes is a convenience wrapper for using unix.Lutimes.
func Lutimes(t *testing.T, path string, atime time.Time, mtime time.Time) error {
	t.Helper()

	var utimes [2]unix.Timeval
	utimes[0] = unix.NsecToTimeval(atime.UnixNano())
	utimes[1] = unix.NsecToTimeval(mtime.UnixNano())

	// Change the timestamps of the path. If it's a symlink, it updates the symlink's timestamps, not the target's.
	err := unix.Lutimes(path, utimes[0:])
	if err != nil {
		return fmt.Errorf("failed to change times: %w", err)
	}

	return nil
}

func LutimesBump(t *testing.T, path string, atime time.Duration, mtime time.Duration) {
	t.Helper()

	now := time.Now()
	newAtime := now.Add(atime)
	newMtime := now.Add(mtime)

	err := filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		return Lutimes(t, path, newAtime, newMtime)
	})
	if err != nil {
		t.Fatalf("failed to bump modtimes: %v", err)
	}
}

// ChangeWorkDir changes the current working directory for the duration of the test.
// The original directory is restored when the test ends.
func ChangeWorkDir(t *testing.T, dir string) {
	t.Helper()
	t.Chdir(dir)
}
