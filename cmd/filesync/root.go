package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syncd/filesync/internal/config"
	"github.com/syncd/filesync/internal/logging"
)

// globalFlags are the flags shared by every subcommand: where profile
// documents, state, and logs live, how verbose to be, and whether to
// emit JSON instead of the colorized console format.
type globalFlags struct {
	configDir string
	verbose   bool
	jsonLogs  bool
}

func newRootCmd(settings config.Settings) *cobra.Command {
	flags := &globalFlags{configDir: settings.ConfigDir}

	root := &cobra.Command{
		Use:           "filesync",
		Short:         "Profile-driven bidirectional file synchronizer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", flags.configDir, "directory holding profiles/, state/, and logs/")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug-level logging")
	root.PersistentFlags().BoolVar(&flags.jsonLogs, "log-json", false, "emit JSON logs instead of colorized console output")

	root.AddCommand(newSyncCmd(flags))
	root.AddCommand(newDaemonCmd(flags))
	root.AddCommand(newConflictsCmd(flags))
	return root
}

func (f *globalFlags) settings() config.Settings {
	return config.Settings{
		ConfigDir: f.configDir,
		StateDir:  filepath.Join(f.configDir, "state"),
		LogDir:    filepath.Join(f.configDir, "logs"),
	}
}

func (f *globalFlags) logger() *slog.Logger {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	if f.jsonLogs {
		return logging.NewJSON(os.Stdout, level)
	}
	return logging.NewConsole(os.Stdout, level, !color.NoColor)
}
