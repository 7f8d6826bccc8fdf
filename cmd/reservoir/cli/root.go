package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservoir",
		Short: "Sync and query engine for multi-tenant BI data",
		Long: `Reservoir: the data layer behind a multi-tenant BI product.

Reservoir registers customer databases, copies synced sources into a private
PostgreSQL namespace in resumable chunks, routes chart queries to the right
backend with per-tenant isolation, and caches chart results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./reservoir.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite metadata store (default: ~/.reservoir)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newConnCmd())
	cmd.AddCommand(newTenantCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// initConfig binds RESERVOIR_* environment variables. The YAML file itself
// is read by loadConfig so that ${VAR} references are expanded first.
func initConfig() {
	viper.SetEnvPrefix("RESERVOIR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
