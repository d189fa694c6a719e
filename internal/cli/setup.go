package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/terabyte/jiraview/internal/engine"
	"github.com/terabyte/jiraview/internal/gateway"
	"github.com/terabyte/jiraview/internal/store"
)

// openEngine opens the store and builds the controller with the full
// gateway chain: exec helper, retries, then transparent batch pagination.
// The returned cleanup closes the controller before the store.
func (a *app) openEngine(cmd *cobra.Command) (*engine.Controller, *store.Store, func(), error) {
	st, err := store.Open(a.resolveCacheDir(cmd), a.componentLogger("store"))
	if err != nil {
		return nil, nil, nil, err
	}

	limits := gateway.Limits{
		Minimal: a.cfg.MinimalBatchSize,
		Full:    a.cfg.FullBatchSize,
	}

	var gw gateway.Gateway = &gateway.Exec{
		Script:   a.cfg.APIHelper,
		PageSize: a.cfg.ListPageSize,
		Logger:   a.componentLogger("gateway"),
	}
	gw = &gateway.Retrying{Inner: gw, MaxTries: 3, Initial: 250 * time.Millisecond}
	gw = gateway.NewPaginated(gw, limits)

	ctrl := engine.New(engine.Options{
		Store:    st,
		Gateway:  gw,
		Limits:   limits,
		Fields:   a.cfg.Fields,
		QueryTTL: a.cfg.QueryTTL,
		Logger:   a.componentLogger("engine"),
	})

	cleanup := func() {
		ctrl.Close()
		if err := st.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("store close failed")
		}
	}
	return ctrl, st, cleanup, nil
}
