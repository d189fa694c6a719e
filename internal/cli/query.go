package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/terabyte/jiraview/internal/engine"
	"github.com/terabyte/jiraview/internal/store"
)

// waitTimeout bounds --wait so a dead backend cannot hang the command.
const waitTimeout = 2 * time.Minute

func newQueryCmd(a *app) *cobra.Command {
	var (
		fields  []string
		refresh bool
		wait    bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "query <jql>",
		Short: "Run a tracker query against the local cache",
		Long: "Run a tracker query. Cached records are printed immediately while a " +
			"background refresh reconciles them with the backend.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, _, cleanup, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			res, err := ctrl.ExecuteQuery(ctx, args[0], fields, refresh)
			if err != nil {
				return err
			}

			if wait {
				wctx, cancel := context.WithTimeout(ctx, waitTimeout)
				defer cancel()
				if werr := ctrl.WaitForRefresh(wctx, res.Fingerprint); werr != nil {
					printErr(cmd, "refresh incomplete: %v", werr)
				}
				// Re-read now that the refresh has settled.
				if res, err = ctrl.ExecuteQuery(ctx, args[0], fields, false); err != nil {
					return err
				}
			}

			if asJSON {
				return printResultJSON(cmd, res)
			}
			printResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&fields, "fields", nil, "issue fields to fetch (default from config)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a refresh even when the cached list is fresh")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the background refresh finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw records as JSON")

	return cmd
}

func printResult(cmd *cobra.Command, res engine.Result) {
	for _, rec := range res.Records {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-12s %s\n",
			rec.Key, summaryField(rec, "status"), summaryField(rec, "summary"))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d records  %s\n", len(res.Records), statusLine(res))
}

func printResultJSON(cmd *cobra.Command, res engine.Result) error {
	payloads := make([]json.RawMessage, len(res.Records))
	for i, rec := range res.Records {
		payloads[i] = rec.Payload
	}
	out := struct {
		Status   string            `json:"status"`
		CacheAge string            `json:"cache_age,omitempty"`
		Records  []json.RawMessage `json:"records"`
	}{
		Status:  res.Status.String(),
		Records: payloads,
	}
	if res.HasAge {
		out.CacheAge = engine.FormatAge(res.CacheAge)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// statusLine renders the freshness status the way the status bar shows it.
func statusLine(res engine.Result) string {
	age := ""
	if res.HasAge {
		age = " (" + engine.FormatAge(res.CacheAge) + ")"
	}

	switch res.Status {
	case engine.StatusFirstRun:
		return "first run, fetching in background"
	case engine.StatusUpdating:
		return "updating" + age
	case engine.StatusCurrent:
		return "current" + age
	case engine.StatusNetworkErrorCached:
		return "backend unreachable, serving cache" + age
	case engine.StatusNetworkErrorNoCache:
		return "backend unreachable, nothing cached"
	case engine.StatusNoCache:
		return "nothing cached"
	default:
		return res.Status.String()
	}
}

// summaryField pulls a display string out of the raw payload. Object
// fields (like status) are reduced to their name.
func summaryField(rec store.Record, field string) string {
	var doc struct {
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return ""
	}
	raw, ok := doc.Fields[field]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var named struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &named); err == nil {
		return named.Name
	}
	return strings.TrimSpace(string(raw))
}
