package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
)

// Output is what a single invocation of the formatting tool produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Combined returns stdout followed by stderr.
func (o *Output) Combined() []byte {
	return append(append([]byte{}, o.Stdout...), o.Stderr...)
}

// Invoker runs an external process to completion.
// A process which runs but exits non-zero is reported through Output.ExitCode with a nil error. The error is reserved
// for processes which could not be started or were cancelled.
type Invoker interface {
	Invoke(ctx context.Context, name string, args ...string) (*Output, error)
}

// ExecInvoker runs processes with os/exec.
type ExecInvoker struct {
	// Dir is the working directory of the process, the current directory if empty.
	Dir string
}

func (e *ExecInvoker) Invoke(ctx context.Context, name string, args ...string) (*Output, error) {
	// Dir must exist, a failed chdir is otherwise reported like a missing executable
	if e.Dir != "" {
		if _, err := os.Stat(e.Dir); err != nil {
			return nil, fmt.Errorf("failed to run %s: invalid working directory: %w", name, err)
		}
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	// replace the default Cancel handler installed by CommandContext because it sends SIGKILL (-9).
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.Dir = e.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	out := &Output{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	var exitErr *exec.ExitError

	switch {
	case ctx.Err() != nil:
		return out, ctx.Err() //nolint:wrapcheck
	case err == nil:
		return out, nil
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()

		return out, nil
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return out, fmt.Errorf("%w: %s: %w", ErrToolNotFound, name, err)
	default:
		return out, fmt.Errorf("failed to run %s: %w", name, err)
	}
}
