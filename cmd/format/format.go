package format

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/numtide/dunefmt/build"
	"github.com/numtide/dunefmt/cache"
	"github.com/numtide/dunefmt/config"
	"github.com/numtide/dunefmt/format"
	"github.com/numtide/dunefmt/stats"
	"github.com/numtide/dunefmt/walk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"mvdan.cc/sh/v3/expand"
)

func Run(v *viper.Viper, statz *stats.Stats, cmd *cobra.Command, paths []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// a hook run with nothing staged has nothing to do, don't even look for the tool
	if len(paths) == 0 && !cfg.All {
		log.Debug("no paths given, nothing to do")

		return nil
	}

	walkType, err := walk.TypeString(cfg.Walk)
	if err != nil {
		return fmt.Errorf("invalid walk type: %w", err)
	}

	// locate the tool before reading any target files
	formatter, err := format.NewFormatter(
		cfg.WorkingDirectory,
		expand.ListEnviron(os.Environ()...),
		cfg.Formatter,
		&format.ExecInvoker{Dir: cfg.TreeRoot},
	)
	if err != nil {
		return fmt.Errorf("failed to initialise formatter: %w", err)
	}

	var evalCache *cache.Cache

	if cfg.ClearCache {
		if err = cache.Remove(cfg.TreeRoot); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}

	if cfg.Cache {
		if evalCache, err = cache.Open(cfg.TreeRoot); err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}

		// ensure cache is closed on return
		defer func() {
			if err := evalCache.Close(); err != nil {
				log.Errorf("failed to close cache: %v", err)
			}
		}()
	}

	// stop launching new invocations on SIGINT / SIGTERM
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// collect the target files in the order they were given
	var files []*walk.File

	if err = walk.Paths(ctx, walkType, cfg.TreeRoot, paths, cfg.All, func(file *walk.File) error {
		files = append(files, file)

		return nil
	}); err != nil {
		return fmt.Errorf("failed to collect paths: %w", err)
	}

	runner, err := format.NewRunner(cfg, formatter, statz, cmd.OutOrStdout(), evalCache)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	report, err := runner.Run(ctx, files)

	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("interrupted: %w", err)
	case err != nil:
		return fmt.Errorf("failed to format: %w", err)
	}

	// print stats
	statz.Log()

	return report.Err() //nolint:wrapcheck
}

// Version prints our own version followed by the version of the formatting tool.
func Version(v *viper.Viper, cmd *cobra.Command) error {
	cmd.SilenceUsage = true

	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", build.Name, build.Version)

	formatter, err := format.NewFormatter(
		cfg.WorkingDirectory,
		expand.ListEnviron(os.Environ()...),
		cfg.Formatter,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to initialise formatter: %w", err)
	}

	version, err := formatter.Version(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read %s version: %w", formatter.Name(), err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", formatter.Name(), version)

	return nil
}
