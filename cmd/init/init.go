package init

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/numtide/dunefmt/config"
)

// We embed the sample toml file for use with the init flag.
//
//go:embed init.toml
var initBytes []byte

// Run writes a sample config into the current directory. An existing config is never overwritten.
func Run(out io.Writer) error {
	name := config.FileNames[0]

	file, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	if _, err = file.Write(initBytes); err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err = file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	_, _ = fmt.Fprintf(out, "Generated %s. Now it's your turn to edit it.\n", name)

	return nil
}
