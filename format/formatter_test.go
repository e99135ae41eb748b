package format_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/numtide/dunefmt/config"
	"github.com/numtide/dunefmt/format"
	"github.com/numtide/dunefmt/test"
	"github.com/numtide/dunefmt/walk"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/expand"
)

func TestToolNotFound(t *testing.T) {
	as := require.New(t)

	env := expand.ListEnviron("PATH=" + t.TempDir())

	_, err := format.NewFormatter(t.TempDir(), env, config.Default(), nil)
	as.ErrorIs(err, format.ErrToolNotFound)

	// present but not executable
	binPath := t.TempDir()
	as.NoError(os.WriteFile(filepath.Join(binPath, "dune"), []byte("#!/bin/sh\n"), 0o644))

	_, err = format.NewFormatter(t.TempDir(), expand.ListEnviron("PATH="+binPath), config.Default(), nil)
	as.ErrorIs(err, format.ErrToolNotFound)
}

func TestFormatterLookup(t *testing.T) {
	as := require.New(t)

	binPath, env := fakeBin(t, "dune")

	f, err := format.NewFormatter(t.TempDir(), env, config.Default(), nil)
	as.NoError(err)
	as.Equal(filepath.Join(binPath, "dune"), f.Executable())
	as.Equal("dune format-dune-file", f.Name())
	as.False(f.InPlace())

	// bad globs
	cfg := config.Default()
	cfg.Excludes = []string{"[unterminated"}

	_, err = format.NewFormatter(t.TempDir(), env, cfg, nil)
	as.ErrorContains(err, "failed to compile formatter excludes")

	// a relative command is resolved against the working directory
	workDir := t.TempDir()
	writeFiles(t, workDir, map[string]string{"tools/dune": "#!/bin/sh\nexit 0\n"})
	as.NoError(os.Chmod(filepath.Join(workDir, "tools", "dune"), 0o755))

	cfg = config.Default()
	cfg.Command = "./tools/dune"

	f, err = format.NewFormatter(workDir, env, cfg, nil)
	as.NoError(err)
	as.Equal(filepath.Join(workDir, "tools", "dune"), f.Executable())

	// as are relative PATH entries
	f, err = format.NewFormatter(workDir, expand.ListEnviron("PATH=tools"), config.Default(), nil)
	as.NoError(err)
	as.Equal(filepath.Join(workDir, "tools", "dune"), f.Executable())
}

func TestFormatterWants(t *testing.T) {
	as := require.New(t)

	cfg := config.Default()
	cfg.Excludes = []string{"vendor/**"}

	f := newFormatter(t, t.TempDir(), cfg, &fakeDune{})

	for path, expected := range map[string]bool{
		"dune":                          true,
		"dune-project":                  true,
		"dune-workspace":                true,
		"src/lib/dune":                  true,
		"src/lib/dune.inc":              false,
		"src/lib/lib.ml":                false,
		"vendor/parser/dune":            false,
		"test/vendor/dune":              true,
		"dune-project/dune":             true,
		"workspace/dune-workspace.dev":  false,
		"README.md":                     false,
		"opam/dune-workspace":           true,
		"bin/main.ml":                   false,
		"src/dune-project-template.txt": false,
	} {
		as.Equal(expected, f.Wants(&walk.File{RelPath: path}), path)
	}
}

func TestFormatterApply(t *testing.T) {
	as := require.New(t)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"lib/dune": "(library  (name lib))\n"})

	invoker := &fakeDune{dir: root}
	f := newFormatter(t, root, config.Default(), invoker)

	out, err := f.Apply(context.Background(), targets(root, "lib/dune")[0])
	as.NoError(err)
	as.Equal(0, out.ExitCode)
	as.Equal("(library (name lib))\n", string(out.Stdout))
	as.Equal([]string{"lib/dune"}, invoker.Calls())

	version, err := f.Version(context.Background())
	as.NoError(err)
	as.Equal("3.16.0", version)
}

func TestFormatterSignature(t *testing.T) {
	as := require.New(t)

	binPath, env := fakeBin(t, "dune")

	newSig := func(cfg *config.Formatter) []byte {
		f, err := format.NewFormatter(t.TempDir(), env, cfg, nil)
		as.NoError(err)

		sig, err := f.Signature()
		as.NoError(err)

		return sig
	}

	sig := newSig(config.Default())
	as.Equal(sig, newSig(config.Default()), "signature should not have changed")

	t.Run("modify options", func(t *testing.T) {
		cfg := config.Default()
		cfg.Options = []string{"format-dune-file", "--lang=3.0"}
		require.NotEqual(t, sig, newSig(cfg))
	})

	t.Run("modify output", func(t *testing.T) {
		cfg := config.Default()
		cfg.Output = config.OutputInPlace
		require.NotEqual(t, sig, newSig(cfg))
	})

	t.Run("modify includes", func(t *testing.T) {
		cfg := config.Default()
		cfg.Includes = []string{"dune"}
		require.Equal(t, sig, newSig(cfg), "includes do not affect how a file is formatted")
	})

	t.Run("change executable mod time", func(t *testing.T) {
		newTime := time.Now().Add(-time.Hour)
		require.NoError(t, test.Lutimes(t, filepath.Join(binPath, "dune"), newTime, newTime))

		sig2 := newSig(config.Default())
		require.NotEqual(t, sig, sig2)
		require.Equal(t, sig2, newSig(config.Default()))
	})
}

func TestExecInvoker(t *testing.T) {
	as := require.New(t)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"lib/dune":  "(library  (name   lib))\n",
		"bad/dune":  "(MALFORMED\n",
		"bin/fmt":   test.FakeDuneScript,
		"bin/touch": "#!/bin/sh\nexit 0\n",
	})
	as.NoError(os.Chmod(filepath.Join(root, "bin", "fmt"), 0o755))

	invoker := &format.ExecInvoker{Dir: root}
	script := filepath.Join(root, "bin", "fmt")

	out, err := invoker.Invoke(context.Background(), script, "format-dune-file", "lib/dune")
	as.NoError(err)
	as.Equal(0, out.ExitCode)
	as.Equal("(library (name lib))\n", string(out.Stdout))
	as.Empty(out.Stderr)

	out, err = invoker.Invoke(context.Background(), script, "format-dune-file", "bad/dune")
	as.NoError(err, "a non-zero exit is not an invocation error")
	as.Equal(1, out.ExitCode)
	as.Contains(string(out.Stderr), "Error: Invalid dune file")

	// missing executable
	_, err = invoker.Invoke(context.Background(), filepath.Join(root, "bin", "missing"))
	as.ErrorIs(err, format.ErrToolNotFound)

	// not executable
	_, err = invoker.Invoke(context.Background(), filepath.Join(root, "bin", "touch"))
	as.ErrorIs(err, format.ErrToolNotFound)

	// a missing working directory is not a missing tool
	missingDir := &format.ExecInvoker{Dir: filepath.Join(root, "missing")}

	_, err = missingDir.Invoke(context.Background(), script, "format-dune-file", "lib/dune")
	as.ErrorIs(err, os.ErrNotExist)
	as.NotErrorIs(err, format.ErrToolNotFound)

	// cancelled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = invoker.Invoke(ctx, script, "format-dune-file", "lib/dune")
	as.ErrorIs(err, context.Canceled)
}
