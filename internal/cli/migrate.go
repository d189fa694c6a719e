package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terabyte/jiraview/internal/migration"
	"github.com/terabyte/jiraview/internal/store"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Import a legacy cache.json into the sqlite cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := a.resolveCacheDir(cmd)

			if _, ok := migration.DetectLegacy(dir); !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no legacy cache found, nothing to do")
				return nil
			}

			st, err := store.Open(dir, a.componentLogger("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := migration.ImportLegacy(cmd.Context(), st, dir, a.componentLogger("migration"))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries, skipped %d expired\n",
				report.Imported, report.Skipped)
			if !report.Removed {
				printErr(cmd, "warning: legacy file could not be removed")
			}
			return nil
		},
	}
}
