package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/numtide/dunefmt/build"
	"github.com/numtide/dunefmt/cmd/format"
	_init "github.com/numtide/dunefmt/cmd/init"
	"github.com/numtide/dunefmt/config"
	"github.com/numtide/dunefmt/stats"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewRoot() (*cobra.Command, *stats.Stats) {
	// create a viper instance for reading in config
	v := config.NewViper()

	// create a new stats instance
	statz := stats.New()

	// create out root command
	cmd := &cobra.Command{
		Use:   build.Name + " [paths...]",
		Short: "Formats dune build files with dune format-dune-file",
		Long: build.Name + " formats the dune, dune-project and dune-workspace files it is given, exiting non-zero " +
			"if any of them had to be reformatted. It is intended to be run as a pre-commit hook.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runE(v, &statz, cmd, args)
		},
	}

	fs := cmd.Flags()

	// add our config flags to the command's flag set
	config.SetFlags(fs)

	// add a couple of special flags which don't have a corresponding entry in dunefmt.toml
	fs.String(
		"config-file", "",
		"Load the config file from the given path (defaults to searching upwards for dunefmt.toml or "+
			".dunefmt.toml). (env $DUNEFMT_CONFIG)",
	)
	fs.BoolP(
		"init", "i", false,
		"Create a dunefmt.toml file in the current directory.",
	)
	fs.Bool(
		"version", false,
		"Print the version of "+build.Name+" and of the formatting tool.",
	)

	// bind our command's flags to viper
	if err := v.BindPFlags(fs); err != nil {
		cobra.CheckErr(fmt.Errorf("failed to bind global config to viper: %w", err))
	}

	return cmd, &statz
}

func runE(v *viper.Viper, statz *stats.Stats, cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	// change working directory if required
	workingDir, err := filepath.Abs(v.GetString("working-dir"))
	if err != nil {
		return fmt.Errorf("failed to get absolute path for working directory: %w", err)
	} else if err = os.Chdir(workingDir); err != nil {
		return fmt.Errorf("failed to change working directory: %w", err)
	}

	// relative paths below are resolved against the new working directory, don't resolve them twice
	v.Set("working-dir", workingDir)

	// check if we are running the init command
	if init, err := flags.GetBool("init"); err != nil {
		return fmt.Errorf("failed to read init flag: %w", err)
	} else if init {
		if err = _init.Run(cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("failed to run init command: %w", err)
		}

		return nil
	}

	// use the path specified by the flag
	configFile, err := flags.GetString("config-file")
	if err != nil {
		return fmt.Errorf("failed to read config-file flag: %w", err)
	}

	// fallback to env
	if configFile == "" {
		configFile = os.Getenv("DUNEFMT_CONFIG")
	}

	// look in the tree root if one was given
	if treeRoot := v.GetString("tree-root"); configFile == "" && treeRoot != "" {
		configFile, _ = config.Find(treeRoot, config.FileNames...)
	}

	// search up from the working directory, a config file is optional
	if configFile == "" {
		configFile, _, err = config.FindUp(workingDir, config.FileNames...)
		if err != nil {
			configFile = ""
		}
	}

	if configFile != "" {
		log.Debugf("using config file: %s", configFile)

		// read in the config
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			cmd.SilenceUsage = true

			return fmt.Errorf("failed to read config file '%s': %w", configFile, err)
		}
	}

	// configure logging
	log.SetOutput(cmd.ErrOrStderr())
	log.SetReportTimestamp(false)

	if v.GetBool("quiet") {
		// if quiet, we only log errors
		log.SetLevel(log.ErrorLevel)
	} else {
		// otherwise, the verbose flag controls the log level
		switch v.GetInt("verbose") {
		case 0:
			log.SetLevel(log.WarnLevel)
		case 1:
			log.SetLevel(log.InfoLevel)
		default:
			log.SetLevel(log.DebugLevel)
		}
	}

	if version, err := flags.GetBool("version"); err != nil {
		return fmt.Errorf("failed to read version flag: %w", err)
	} else if version {
		return format.Version(v, cmd) //nolint:wrapcheck
	}

	// format
	return format.Run(v, statz, cmd, args) //nolint:wrapcheck
}

