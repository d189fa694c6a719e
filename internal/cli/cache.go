package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terabyte/jiraview/internal/engine"
	"github.com/terabyte/jiraview/internal/store"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local cache",
	}
	cmd.AddCommand(newCacheStatsCmd(a), newCacheClearCmd(a))
	return cmd
}

func newCacheStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache contents and age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(a.resolveCacheDir(cmd), a.componentLogger("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cache: %s\n", st.Dir())
			fmt.Fprintf(out, "size:  %s\n", formatBytes(stats.SizeBytes))
			printBucket(cmd, "records", stats.Records)
			printBucket(cmd, "actors", stats.Actors)
			return nil
		},
	}
}

func newCacheClearCmd(a *app) *cobra.Command {
	var (
		records bool
		actors  bool
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !records && !actors && !all {
				return fmt.Errorf("nothing selected: pass --records, --actors, or --all")
			}

			st, err := store.Open(a.resolveCacheDir(cmd), a.componentLogger("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if all {
				nr, na, cerr := st.ClearAll(ctx)
				if cerr != nil {
					return cerr
				}
				fmt.Fprintf(out, "cleared %d records, %d actors\n", nr, na)
				return nil
			}
			if records {
				n, cerr := st.ClearRecords(ctx)
				if cerr != nil {
					return cerr
				}
				fmt.Fprintf(out, "cleared %d records\n", n)
			}
			if actors {
				n, cerr := st.ClearActors(ctx)
				if cerr != nil {
					return cerr
				}
				fmt.Fprintf(out, "cleared %d actors\n", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&records, "records", false, "clear cached records and the query index")
	cmd.Flags().BoolVar(&actors, "actors", false, "clear cached actor identities")
	cmd.Flags().BoolVar(&all, "all", false, "clear everything")

	return cmd
}

func printBucket(cmd *cobra.Command, name string, b store.Bucket) {
	out := cmd.OutOrStdout()
	if b.Count == 0 {
		fmt.Fprintf(out, "%s: empty\n", name)
		return
	}
	fmt.Fprintf(out, "%s: %d (oldest %s, newest %s)\n",
		name, b.Count,
		engine.FormatAge(time.Since(b.Oldest)),
		engine.FormatAge(time.Since(b.Newest)))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
