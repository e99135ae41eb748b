package format

import (
	"context"
	"crypto/md5" //nolint:gosec
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/numtide/dunefmt/config"
	"github.com/numtide/dunefmt/walk"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
)

// Formatter represents the external tool applied to each target file.
type Formatter struct {
	config *config.Formatter

	log        *log.Logger
	executable string // path to the executable described by Command
	invoker    Invoker

	// internal, compiled versions of Includes and Excludes.
	includes []Pattern
	excludes []Pattern
}

func (f *Formatter) Name() string {
	return strings.Join(append([]string{f.config.Command}, f.config.Options...), " ")
}

// Executable returns the path to the executable defined by Command.
func (f *Formatter) Executable() string {
	return f.executable
}

func (f *Formatter) InPlace() bool {
	return f.config.Output == config.OutputInPlace
}

// Apply invokes the tool for a single file, returning whatever it produced.
// A non-zero exit is reported through the Output, not the error.
func (f *Formatter) Apply(ctx context.Context, file *walk.File) (*Output, error) {
	args := make([]string, 0, len(f.config.Options)+1)
	args = append(args, f.config.Options...)
	args = append(args, file.RelPath)

	// log out the command being executed
	f.log.Debugf("executing: %s %s", f.executable, strings.Join(args, " "))

	return f.invoker.Invoke(ctx, f.executable, args...)
}

// Version asks the tool for its version, e.g. `dune format-dune-file --version`.
func (f *Formatter) Version(ctx context.Context) (string, error) {
	args := make([]string, 0, len(f.config.Options)+1)
	args = append(args, f.config.Options...)
	args = append(args, "--version")

	out, err := f.invoker.Invoke(ctx, f.executable, args...)
	if err != nil {
		return "", err
	} else if out.ExitCode != 0 {
		return "", &ToolExecutionError{Path: "--version", ExitCode: out.ExitCode, Output: out.Combined()}
	}

	return strings.TrimSpace(string(out.Stdout)), nil
}

// Wants is used to determine if the Formatter should process a file based on its configured Includes and Excludes
// patterns.
func (f *Formatter) Wants(file *walk.File) bool {
	match := !PathMatches(file.RelPath, f.excludes) && PathMatches(file.RelPath, f.includes)
	if match {
		f.log.Debugf("match: %v", file.RelPath)
	}

	return match
}

// Excludes reports whether file matches one of the formatter's Excludes patterns.
func (f *Formatter) Excludes(file *walk.File) bool {
	return PathMatches(file.RelPath, f.excludes)
}

// Hash adds this formatter's executable and configuration to h.
func (f *Formatter) Hash(h hash.Hash) error {
	info, err := os.Stat(f.executable)
	if err != nil {
		return fmt.Errorf("failed to stat formatter executable %v: %w", f.executable, err)
	}

	// include the executable's size and mod time, so an upgrade invalidates previous results
	_, _ = fmt.Fprintf(h, "%s %d %d\n", f.executable, info.Size(), info.ModTime().Unix())
	_, _ = fmt.Fprintf(h, "%q %s\n", f.config.Options, f.config.Output)

	return nil
}

// Signature returns a digest of Hash.
func (f *Formatter) Signature() ([]byte, error) {
	h := md5.New() //nolint:gosec
	if err := f.Hash(h); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

// NewFormatter is used to create a new Formatter.
// The executable is resolved against the PATH in env, relative to workingDir, and made absolute. ErrToolNotFound is
// returned if it cannot be found or is not executable.
func NewFormatter(
	workingDir string,
	env expand.Environ,
	cfg *config.Formatter,
	invoker Invoker,
) (*Formatter, error) {
	var err error

	f := Formatter{
		config:  cfg,
		invoker: invoker,
		log:     log.WithPrefix(fmt.Sprintf("format | %s", cfg.Command)),
	}

	// test if the formatter is available
	f.executable, err = interp.LookPathDir(workingDir, env, cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, cfg.Command)
	}

	// relative commands and PATH entries are returned as is, the tool may run from another directory
	if !filepath.IsAbs(f.executable) {
		f.executable = filepath.Join(workingDir, f.executable)
	}

	if f.invoker == nil {
		f.invoker = &ExecInvoker{Dir: workingDir}
	}

	f.includes, err = CompileGlobs(cfg.Includes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile formatter includes: %w", err)
	}

	f.excludes, err = CompileGlobs(cfg.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile formatter excludes: %w", err)
	}

	return &f, nil
}
