package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/faucetdb/reservoir/internal/service"
)

func newQueryCmd() *cobra.Command {
	var (
		connRef  string
		tenant   string
		chartID  string
		params   []string
		filters  []string
		tables   []string
		dynamic  bool
		refresh  bool
		failExit bool
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a chart query through the router and cache",
		Long: `Run one chart query the way the API does: the connection's storage location
picks the backend, tenant_shared queries run as the tenant's role, and results
are cached under --chart when caching is on.`,
		Example: `  reservoir query --connection shop --chart revenue "SELECT day, SUM(total) FROM orders GROUP BY day"
  reservoir query --connection shared --tenant acme "SELECT * FROM invoices WHERE status = ?" --param open`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if connRef == "" {
				return errors.New("--connection is required")
			}
			filterMap, err := parseFilters(filters)
			if err != nil {
				return err
			}

			a, err := openApp(ctx, true, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			conn, err := lookupConnection(ctx, a.store, connRef)
			if err != nil {
				return err
			}

			q := service.ChartQuery{
				ChartID:      chartID,
				ConnectionID: conn.ID,
				SQL:          args[0],
				Filters:      filterMap,
				TenantID:     tenant,
			}
			for _, p := range params {
				q.Params = append(q.Params, p)
			}
			q.Cache.DynamicFilter = dynamic
			q.Cache.Tables = tables

			var res service.ChartResult
			if refresh {
				res = a.charts.Refresh(ctx, q)
			} else {
				res = a.charts.Run(ctx, q)
			}
			if err := printJSON(os.Stdout, res); err != nil {
				return err
			}
			if failExit && res.Meta.Error != "" {
				return fmt.Errorf("query failed: %s", res.Meta.Error)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&connRef, "connection", "c", "", "Connection name or id (required)")
	f.StringVarP(&tenant, "tenant", "t", "", "Tenant id (tenant_shared connections)")
	f.StringVar(&chartID, "chart", "", "Chart id; results are cached only when set")
	f.StringArrayVarP(&params, "param", "p", nil, "Positional query parameter (repeatable)")
	f.StringArrayVar(&filters, "filter", nil, "Chart filter key=value, part of the cache key (repeatable)")
	f.StringSliceVar(&tables, "tables", nil, "Tables the chart depends on (default: taken from the SQL)")
	f.BoolVar(&dynamic, "dynamic", false, "The chart filters relative to the current date")
	f.BoolVar(&refresh, "refresh", false, "Bypass and replace the cached result")
	f.BoolVar(&failExit, "fail", true, "Exit non-zero when the query fails")

	return cmd
}

// parseFilters turns key=value pairs into a filter map.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q (want key=value)", p)
		}
		out[k] = v
	}
	return out, nil
}
