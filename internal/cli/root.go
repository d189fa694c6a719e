// Package cli wires the cache engine into the jiraview command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/terabyte/jiraview/internal/config"
	"github.com/terabyte/jiraview/internal/logging"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// app carries the resolved configuration and logger shared by all commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCmd creates the root Cobra command for the jiraview CLI.
func NewRootCmd(ver string) *cobra.Command {
	a := &app{}
	var configPath string

	cmd := &cobra.Command{
		Use:     "jiraview",
		Short:   "Cached issue-tracker query engine",
		Long:    "jiraview: run tracker queries against a local cache with background refresh",
		Version: ver,
		Example: rootCmdExample,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			a.cfg = cfg

			debug, _ := cmd.Flags().GetBool("debug")
			level := cfg.LogLevel
			if debug {
				level = "debug"
			}
			a.logger = logging.NewLogger(logging.Config{
				Level:   level,
				Console: isTerminal(os.Stderr),
				Output:  cmd.ErrOrStderr(),
			})
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().String("cache-dir", "", "override cache directory")

	cmd.AddCommand(newQueryCmd(a), newCacheCmd(a), newMigrateCmd(a))

	return cmd
}

// resolveCacheDir applies the --cache-dir flag on top of the config.
func (a *app) resolveCacheDir(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("cache-dir"); dir != "" {
		return dir
	}
	return a.cfg.CacheDir
}

func (a *app) componentLogger(component string) zerolog.Logger {
	return logging.ComponentLogger(a.logger, component)
}

const rootCmdExample = `  # Run a query, serving cached records immediately
  jiraview query "project = INFRA AND status != Done"

  # Wait for the background refresh to finish before printing
  jiraview query --wait "assignee = currentUser()"

  # Force a refresh even if the cached result list is fresh
  jiraview query --refresh "project = INFRA"

  # Inspect the cache
  jiraview cache stats

  # Drop cached records but keep actor identities
  jiraview cache clear --records

  # Import a legacy cache.json left behind by older versions
  jiraview migrate`

func printErr(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}
