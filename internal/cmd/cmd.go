// Package cmd implements the contentsync command line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/memberhq/contentsync/internal/logging"
)

// RootCommand is the base command of the contentsync binary. Subcommands
// register themselves in their init functions.
var RootCommand = &cobra.Command{
	Use:   "contentsync",
	Short: "Synchronize membership content from git repositories",
	Long: `contentsync pulls articles, courses, resources and projects from
configured git repositories, parses their frontmatter, uploads referenced
assets to object storage and upserts the records into the content database.`,
	SilenceUsage: true,
}

type logFlags struct {
	level  int
	format string
}

func addLogFlags(flags *pflag.FlagSet, lf *logFlags) {
	flags.IntVarP(&lf.level, "log-level", "l", logging.LevelInfo, "set log level (0: error, 1: info, 2: warn, 3: debug)")
	flags.StringVar(&lf.format, "log-format", logging.FormatJSON, "set log format (json or text)")
}

func addStateFlags(flags *pflag.FlagSet, configFiles *[]string, persistenceDir *string) {
	flags.StringSliceVarP(configFiles, "config", "c", nil, "path to configuration file (may be repeated, later files override earlier ones)")
	flags.StringVar(persistenceDir, "data-dir", "data", "directory for git worktrees and the default sqlite database")
}

func (f *logFlags) logger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: f.level, Format: f.format})
}
