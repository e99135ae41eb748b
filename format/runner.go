package format

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/natefinch/atomic"
	"github.com/numtide/dunefmt/cache"
	"github.com/numtide/dunefmt/config"
	"github.com/numtide/dunefmt/stats"
	"github.com/numtide/dunefmt/walk"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Runner applies a Formatter to a set of target files and reports which of them changed.
type Runner struct {
	formatter *Formatter
	cache     *cache.Cache
	signature []byte
	stats     *stats.Stats
	log       *log.Logger

	check  bool
	diff   bool
	stdout bool
	jobs   int

	globalExcludes []Pattern
	unmatchedLevel log.Level

	// out receives the user facing report, guarded by mu
	mu  sync.Mutex
	out io.Writer
}

// snapshot is the state of a file before the tool ran.
type snapshot struct {
	content []byte
	digest  [sha256.Size]byte
	mode    fs.FileMode
}

// Run processes files in input order, or concurrently when more than one job was configured.
// Failures of the tool for individual files, files which cannot be read or written, and files named on the command line
// which are not target files are recorded in the Report and do not stop the run. An error is returned if the tool
// cannot be found or executed, a path is not a target file and on-unmatched is fatal, or ctx is cancelled. In the
// latter case no further processes are started.
func (r *Runner) Run(ctx context.Context, files []*walk.File) (*Report, error) {
	report, err := r.match(files)
	if err != nil {
		return nil, err
	}

	if r.jobs <= 1 {
		for idx, pending := range report.Results {
			if pending.Err != nil {
				continue
			}

			if err := ctx.Err(); err != nil {
				return report, err //nolint:wrapcheck
			}

			res, err := r.process(ctx, pending.File)
			if err != nil {
				return report, err
			}

			report.Results[idx] = res
		}

		r.printFormatted(report)

		return report, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.jobs)

	for idx, pending := range report.Results {
		if pending.Err != nil {
			continue
		}

		if egCtx.Err() != nil {
			break
		}

		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err //nolint:wrapcheck
			}

			res, err := r.process(egCtx, pending.File)
			if err != nil {
				return err
			}

			// each goroutine owns its own index
			report.Results[idx] = res

			return nil
		})
	}

	if err = eg.Wait(); err != nil {
		return report, err //nolint:wrapcheck
	}

	if err = ctx.Err(); err != nil {
		return report, err //nolint:wrapcheck
	}

	r.printFormatted(report)

	return report, nil
}

// match filters files against the global excludes and the formatter's includes and excludes.
// The returned Report holds a pending Result for every target file, in input order. Files named on the command line
// which the formatter does not include are recorded as failed, files found by scanning are logged at the
// on-unmatched level and dropped.
func (r *Runner) match(files []*walk.File) (*Report, error) {
	report := &Report{}

	for _, file := range files {
		r.stats.Add(stats.Traversed, 1)

		// first check if this file has been excluded
		if PathMatches(file.RelPath, r.globalExcludes) || r.formatter.Excludes(file) {
			r.log.Debugf("path matched excludes: %s", file.RelPath)

			continue
		}

		if !r.formatter.Wants(file) {
			// exit with an error if the unmatched level was set to fatal
			if r.unmatchedLevel == log.FatalLevel {
				return nil, fmt.Errorf("no formatter for path: %s", file.RelPath)
			}

			if file.Explicit {
				report.Results = append(report.Results, r.fail(&Result{File: file}, fmt.Errorf(
					"%w: %s should match one of %s",
					ErrNotTargetFile, file.RelPath, strings.Join(r.formatter.config.Includes, ", "),
				)))

				continue
			}

			log.Logf(r.unmatchedLevel, "no formatter for path: %s", file.RelPath)

			continue
		}

		r.stats.Add(stats.Matched, 1)

		report.Results = append(report.Results, &Result{File: file})
	}

	return report, nil
}

func (r *Runner) process(ctx context.Context, file *walk.File) (*Result, error) {
	res := &Result{File: file}

	if !r.stdout && r.fresh(file) {
		r.log.Debugf("skipping unchanged file: %s", file.RelPath)
		r.stats.Add(stats.Skipped, 1)

		res.Skipped = true

		return res, nil
	}

	before, err := takeSnapshot(file, !r.dryRun())
	if err != nil {
		return r.fail(res, err), nil
	}

	out, err := r.formatter.Apply(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("failed to apply formatter to %s: %w", file.RelPath, err)
	}

	r.stats.Add(stats.Formatted, 1)

	res.ExitCode = out.ExitCode

	if out.ExitCode != 0 {
		res.Output = out.Combined()

		return r.fail(res, &ToolExecutionError{
			Path:     file.RelPath,
			ExitCode: out.ExitCode,
			Output:   res.Output,
		}), nil
	}

	var after []byte

	if r.formatter.InPlace() {
		// the tool has rewritten the file, read it back
		res.Output = out.Combined()

		if after, err = os.ReadFile(file.Path); err != nil {
			return r.fail(res, &FileIOError{Path: file.RelPath, Op: "read", Err: err}), nil
		}
	} else {
		res.Output = out.Stderr
		after = out.Stdout
	}

	res.Changed = before.digest != sha256.Sum256(after)

	if r.stdout {
		res.formatted = after
	}

	if res.Changed {
		r.stats.Add(stats.Changed, 1)

		r.log.Debug(
			"file has changed",
			"path", file.RelPath,
			"prev_size", len(before.content),
			"current_size", len(after),
		)

		if err = r.writeBack(file, before, after); err != nil {
			return r.fail(res, err), nil
		}

		r.printChange(file, before.content, after)
	}

	r.remember(file, res)

	return res, nil
}

// writeBack persists the outcome of formatting, unless in check or stdout mode, where any in-place change is
// reverted. Writes are atomic, a file is never left partially written. Symlinks are written through to their target.
func (r *Runner) writeBack(file *walk.File, before *snapshot, after []byte) error {
	var content []byte

	switch {
	case r.dryRun() && r.formatter.InPlace():
		content = before.content
	case !r.dryRun() && !r.formatter.InPlace():
		content = after
	default:
		return nil
	}

	path, err := filepath.EvalSymlinks(file.Path)
	if err != nil {
		return &FileIOError{Path: file.RelPath, Op: "resolve", Err: err}
	}

	if err = atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return &FileIOError{Path: file.RelPath, Op: "write", Err: err}
	}

	if err = os.Chmod(path, before.mode); err != nil {
		return &FileIOError{Path: file.RelPath, Op: "chmod", Err: err}
	}

	return nil
}

// dryRun is true if target files are to be left as they were found.
func (r *Runner) dryRun() bool {
	return r.check || r.stdout
}

func (r *Runner) fail(res *Result, err error) *Result {
	res.Err = err

	r.stats.Add(stats.Errored, 1)
	r.remember(res.File, res)

	var execErr *ToolExecutionError
	if errors.As(err, &execErr) {
		r.log.Error(
			"failed to format",
			"path", execErr.Path,
			"exit_code", execErr.ExitCode,
			"output", string(bytes.TrimSpace(execErr.Output)),
		)
	} else {
		r.log.Error("failed to format", "path", res.File.RelPath, "err", err)
	}

	return res
}

func (r *Runner) printChange(file *walk.File, before []byte, after []byte) {
	// out is reserved for the formatted content
	if r.stdout {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	verb := "reformatted"
	if r.check {
		verb = "would reformat"
	}

	_, _ = fmt.Fprintf(r.out, "%s %s\n", verb, file.RelPath)

	if !(r.diff || r.check) {
		return
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "a/" + file.RelPath,
		ToFile:   "b/" + file.RelPath,
		Context:  3,
	})
	if err != nil {
		r.log.Warnf("failed to generate diff for %s: %v", file.RelPath, err)

		return
	}

	_, _ = io.WriteString(r.out, diff)
}

// printFormatted writes the formatted content of every successfully processed file to out, in input order.
func (r *Runner) printFormatted(report *Report) {
	if !r.stdout {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range report.Results {
		if res != nil && res.Err == nil {
			_, _ = r.out.Write(res.formatted)
		}
	}
}

// fresh reports whether the cache knows file to already be formatted.
func (r *Runner) fresh(file *walk.File) bool {
	if r.cache == nil || file.Info == nil {
		return false
	}

	fresh, err := r.cache.Fresh(file.RelPath, file.Info, r.signature)
	if err != nil {
		r.log.Warnf("%v", err)

		return false
	}

	return fresh
}

// remember records a file left in canonical form in the cache, and forgets any other.
func (r *Runner) remember(file *walk.File, res *Result) {
	if r.cache == nil {
		return
	}

	var err error

	if res.Err != nil || (r.dryRun() && res.Changed) {
		err = r.cache.Delete(file.RelPath)
	} else {
		var info fs.FileInfo
		if info, err = os.Stat(file.Path); err == nil {
			err = r.cache.Put(file.RelPath, info, r.signature)
		}
	}

	if err != nil {
		r.log.Warnf("failed to update cache for %s: %v", file.RelPath, err)
	}
}

func takeSnapshot(file *walk.File, writable bool) (*snapshot, error) {
	info, err := os.Stat(file.Path)
	if err != nil {
		return nil, &FileIOError{Path: file.RelPath, Op: "stat", Err: err}
	} else if !info.Mode().IsRegular() {
		return nil, &FileIOError{Path: file.RelPath, Op: "read", Err: errors.New("not a regular file")}
	}

	content, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, &FileIOError{Path: file.RelPath, Op: "read", Err: err}
	}

	if writable {
		if err = unix.Access(file.Path, unix.W_OK); err != nil {
			return nil, &FileIOError{Path: file.RelPath, Op: "write", Err: err}
		}
	}

	return &snapshot{
		content: content,
		digest:  sha256.Sum256(content),
		mode:    info.Mode().Perm(),
	}, nil
}

// NewRunner creates a Runner for formatter. c may be nil, in which case every target file is formatted.
func NewRunner(
	cfg *config.Config,
	formatter *Formatter,
	statz *stats.Stats,
	out io.Writer,
	c *cache.Cache,
) (*Runner, error) {
	// compile global exclude globs
	globalExcludes, err := CompileGlobs(cfg.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile global excludes: %w", err)
	}

	onUnmatched := cfg.OnUnmatched
	if onUnmatched == "" {
		onUnmatched = "warn"
	}

	// parse unmatched log level
	unmatchedLevel, err := log.ParseLevel(onUnmatched)
	if err != nil {
		return nil, fmt.Errorf("invalid on-unmatched value: %w", err)
	}

	var signature []byte

	if c != nil {
		if signature, err = formatter.Signature(); err != nil {
			return nil, fmt.Errorf("failed to compute formatter signature: %w", err)
		}
	}

	return &Runner{
		formatter:      formatter,
		cache:          c,
		signature:      signature,
		stats:          statz,
		log:            log.WithPrefix("format"),
		check:          cfg.Check,
		diff:           cfg.Diff,
		stdout:         cfg.Stdout,
		jobs:           cfg.Jobs,
		globalExcludes: globalExcludes,
		unmatchedLevel: unmatchedLevel,
		out:            out,
	}, nil
}
