package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	OutputStdout  = "stdout"
	OutputInPlace = "in-place"
)

var (
	ErrInvalidJobs   = errors.New("jobs must be between 1 and 256")
	ErrInvalidOutput = fmt.Errorf("formatter output must be one of <%s|%s>", OutputStdout, OutputInPlace)

	// FileNames are the config file names searched for, in order of preference.
	FileNames = []string{"dunefmt.toml", ".dunefmt.toml"}

	// DefaultIncludes are the dune build description files.
	DefaultIncludes = []string{"dune", "dune-project", "dune-workspace"}
)

// Config is the fully resolved configuration for a single run.
type Config struct {
	All              bool     `mapstructure:"all" toml:"-"`
	Cache            bool     `mapstructure:"cache" toml:"cache,omitempty"`
	ClearCache       bool     `mapstructure:"clear-cache" toml:"-"` // not allowed in config
	Check            bool     `mapstructure:"check" toml:"check,omitempty"`
	Diff             bool     `mapstructure:"diff" toml:"diff,omitempty"`
	Excludes         []string `mapstructure:"excludes" toml:"excludes,omitempty"`
	Jobs             int      `mapstructure:"jobs" toml:"jobs,omitempty"`
	OnUnmatched      string   `mapstructure:"on-unmatched" toml:"on-unmatched,omitempty"`
	Quiet            bool     `mapstructure:"quiet" toml:"quiet,omitempty"`
	Stdout           bool     `mapstructure:"stdout" toml:"stdout,omitempty"`
	TreeRoot         string   `mapstructure:"tree-root" toml:"tree-root,omitempty"`
	Verbose          uint8    `mapstructure:"verbose" toml:"verbose,omitempty"`
	Walk             string   `mapstructure:"walk" toml:"walk,omitempty"`
	WorkingDirectory string   `mapstructure:"working-dir" toml:"-"`

	Formatter *Formatter `mapstructure:"formatter" toml:"formatter,omitempty"`
}

type Formatter struct {
	// Command is the executable to invoke, looked up on PATH.
	Command string `mapstructure:"command" toml:"command"`
	// Options are passed to Command before the path of the file being formatted.
	Options []string `mapstructure:"options" toml:"options,omitempty"`
	// Includes is a list of glob patterns identifying target files.
	// Patterns without a `/` are matched against the file name, all others against the path relative to the tree root.
	Includes []string `mapstructure:"includes" toml:"includes,omitempty"`
	// Excludes is an optional list of glob patterns used to exclude files which would otherwise be included.
	Excludes []string `mapstructure:"excludes" toml:"excludes,omitempty"`
	// Output is either "stdout", where Command prints the formatted file, or "in-place", where Command rewrites it.
	Output string `mapstructure:"output" toml:"output,omitempty"`
}

// Default returns the dune format-dune-file formatter.
func Default() *Formatter {
	return &Formatter{
		Command:  "dune",
		Options:  []string{"format-dune-file"},
		Includes: DefaultIncludes,
		Output:   OutputStdout,
	}
}

// SetFlags appends our flags to the provided flag set.
// Flag names match the mapstructure tags in Config so viper can bind them directly.
func SetFlags(fs *pflag.FlagSet) {
	fs.Bool(
		"all", false,
		"Scan the tree root for target files when no paths are given. (env $DUNEFMT_ALL)",
	)
	fs.Bool(
		"cache", false,
		"Skip files which have not changed since they were last formatted. (env $DUNEFMT_CACHE)",
	)
	fs.BoolP(
		"clear-cache", "c", false,
		"Reset the evaluation cache before running. (env $DUNEFMT_CLEAR_CACHE)",
	)
	fs.Bool(
		"check", false,
		"Do not write any files, only report which files would be reformatted. (env $DUNEFMT_CHECK)",
	)
	fs.Bool(
		"diff", false,
		"Print a unified diff for each reformatted file. (env $DUNEFMT_DIFF)",
	)
	fs.StringSlice(
		"excludes", nil,
		"Exclude files or directories matching the specified globs. (env $DUNEFMT_EXCLUDES)",
	)
	fs.IntP(
		"jobs", "j", 1,
		"The number of files to format concurrently. (env $DUNEFMT_JOBS)",
	)
	fs.StringP(
		"on-unmatched", "u", "warn",
		"Log paths found while scanning directories that are not target files at the specified log level. "+
			"Possible values are <debug|info|warn|error|fatal>. Paths given explicitly that are not target files "+
			"always fail. (env $DUNEFMT_ON_UNMATCHED)",
	)
	fs.BoolP(
		"quiet", "q", false,
		"Only log errors. (env $DUNEFMT_QUIET)",
	)
	fs.Bool(
		"stdout", false,
		"Print the formatted content of each file instead of writing it back. (env $DUNEFMT_STDOUT)",
	)
	fs.String(
		"tree-root", "",
		"The root directory used for relative paths and scans (defaults to the working directory). "+
			"(env $DUNEFMT_TREE_ROOT)",
	)
	fs.CountP(
		"verbose", "v",
		"Set the verbosity of logs e.g. -vv. (env $DUNEFMT_VERBOSE)",
	)
	fs.String(
		"walk", "auto",
		"The method used to scan directories. Currently supports <auto|git|filesystem>. (env $DUNEFMT_WALK)",
	)
	fs.StringP(
		"working-dir", "C", ".",
		"Run as if dunefmt was started in the specified working directory instead of the current working "+
			"directory. (env $DUNEFMT_WORKING_DIR)",
	)
}

// NewViper creates a Viper instance pre-configured with the following options:
// * TOML config type
// * automatic env enabled
// * `DUNEFMT_` env prefix for environment variables
// * replacement of `-` and `.` with `_` when mapping flags to env e.g. `formatter.command` => `DUNEFMT_FORMATTER_COMMAND`
// * defaults for the formatter section.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetConfigType("toml")

	v.SetEnvPrefix("dunefmt")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	def := Default()
	v.SetDefault("formatter.command", def.Command)
	v.SetDefault("formatter.options", def.Options)
	v.SetDefault("formatter.includes", def.Includes)
	v.SetDefault("formatter.excludes", []string{})
	v.SetDefault("formatter.output", def.Output)

	return v
}

// FromViper takes a viper instance and produces a Config instance.
func FromViper(v *viper.Viper) (*Config, error) {
	configReset := map[string]any{
		"all":         false,
		"clear-cache": false,
		"working-dir": ".",
	}

	// reset certain values which are not allowed to be specified in the config file
	if err := v.MergeConfigMap(configReset); err != nil {
		return nil, fmt.Errorf("failed to overwrite config values: %w", err)
	}

	var err error

	cfg := &Config{}

	if err = v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// resolve the working directory to an absolute path
	cfg.WorkingDirectory, err = filepath.Abs(cfg.WorkingDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for working directory: %w", err)
	}

	// default the tree root to the working directory
	if cfg.TreeRoot == "" {
		cfg.TreeRoot = cfg.WorkingDirectory
	} else if !filepath.IsAbs(cfg.TreeRoot) {
		cfg.TreeRoot = filepath.Join(cfg.WorkingDirectory, cfg.TreeRoot)
	}

	cfg.TreeRoot = filepath.Clean(cfg.TreeRoot)

	if cfg.Formatter == nil {
		cfg.Formatter = Default()
	}

	if cfg.Formatter.Output == "" {
		cfg.Formatter.Output = OutputStdout
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	log.WithPrefix("config").Debug(
		"resolved",
		"tree_root", cfg.TreeRoot,
		"command", cfg.Formatter.Command,
		"options", cfg.Formatter.Options,
		"output", cfg.Formatter.Output,
		"jobs", cfg.Jobs,
	)

	return cfg, nil
}

// Validate checks values which cannot be expressed through flag types alone.
func (c *Config) Validate() error {
	// default if it isn't set (e.g. in tests when using Config directly)
	if c.Jobs == 0 {
		c.Jobs = 1
	}

	if c.Jobs < 1 || c.Jobs > 256 {
		return ErrInvalidJobs
	}

	if c.Formatter == nil {
		return errors.New("no formatter configured")
	}

	if c.Formatter.Command == "" {
		return errors.New("formatter command must not be empty")
	}

	switch c.Formatter.Output {
	case OutputStdout, OutputInPlace:
	default:
		return ErrInvalidOutput
	}

	return nil
}

// Find looks for the first of fileNames inside dir.
func Find(dir string, fileNames ...string) (string, error) {
	for _, f := range fileNames {
		path := filepath.Join(dir, f)
		if fileExists(path) {
			return path, nil
		}
	}

	return "", fmt.Errorf("could not find %s in %s", fileNames, dir)
}

// FindUp searches searchDir and each of its parents for the first of fileNames.
func FindUp(searchDir string, fileNames ...string) (path string, dir string, err error) {
	for _, dir := range eachDir(searchDir) {
		for _, f := range fileNames {
			path := filepath.Join(dir, f)
			if fileExists(path) {
				return path, dir, nil
			}
		}
	}

	return "", "", fmt.Errorf("could not find %s in %s", fileNames, searchDir)
}

func eachDir(path string) (paths []string) {
	path, err := filepath.Abs(path)
	if err != nil {
		return
	}

	paths = []string{path}

	if path == "/" {
		return
	}

	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == os.PathSeparator {
			path = path[:i]
			if path == "" {
				path = "/"
			}

			paths = append(paths, path)
		}
	}

	return
}

func fileExists(path string) bool {
	// Some broken filesystems like SSHFS return file information on stat() but
	// then cannot open the file. So we use os.Open.
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	// Next, check that the file is a regular file.
	fi, err := f.Stat()
	if err != nil {
		return false
	}

	return fi.Mode().IsRegular()
}
