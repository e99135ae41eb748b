package format

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned when the formatting tool cannot be located or executed.
	// It is fatal: no target file is read once it has been encountered.
	ErrToolNotFound = errors.New("formatting tool not found in PATH")

	// ErrFilesChanged is returned when one or more files were reformatted, or would be in check mode.
	ErrFilesChanged = errors.New("files were reformatted")

	// ErrFormattingFailures is returned when the tool failed for one or more files, or a file could not be read or
	// written.
	ErrFormattingFailures = errors.New("formatting failures detected")

	// ErrNotTargetFile is recorded for a file named on the command line which the formatter does not include.
	ErrNotTargetFile = errors.New("not a target file")
)

// ToolExecutionError records the formatting tool exiting with a non-zero status for a file.
type ToolExecutionError struct {
	Path     string
	ExitCode int
	Output   []byte
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("formatter exited with code %d for %s", e.ExitCode, e.Path)
}

// FileIOError records a target file which could not be read or written.
type FileIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileIOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileIOError) Unwrap() error {
	return e.Err
}
