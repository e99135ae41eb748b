package format

import (
	"errors"

	"github.com/numtide/dunefmt/walk"
)

// Result is the outcome of processing a single target file.
type Result struct {
	File *walk.File
	// Changed is true if the file's content differed after formatting.
	Changed bool
	// Skipped is true if the file was found in the cache and the tool was not invoked.
	Skipped bool
	// ExitCode is the exit status of the tool.
	ExitCode int
	// Output is the diagnostic output of the tool.
	Output []byte
	// Err is a *ToolExecutionError, a *FileIOError or wraps ErrNotTargetFile.
	Err error

	// formatted content, kept when it is to be printed rather than written back
	formatted []byte
}

// Report collects the results of a run in input order.
type Report struct {
	Results []*Result
}

func (r *Report) Changed() []*Result {
	return r.filter(func(res *Result) bool { return res.Changed })
}

func (r *Report) Errored() []*Result {
	return r.filter(func(res *Result) bool { return res.Err != nil })
}

func (r *Report) filter(fn func(*Result) bool) []*Result {
	var results []*Result

	for _, res := range r.Results {
		if res != nil && fn(res) {
			results = append(results, res)
		}
	}

	return results
}

// Err returns nil if every file was already formatted, otherwise ErrFormattingFailures and/or ErrFilesChanged.
func (r *Report) Err() error {
	var errs []error

	if len(r.Errored()) > 0 {
		errs = append(errs, ErrFormattingFailures)
	}

	if len(r.Changed()) > 0 {
		errs = append(errs, ErrFilesChanged)
	}

	return errors.Join(errs...)
}
