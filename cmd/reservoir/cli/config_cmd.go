package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/reservoir/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Reservoir configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default reservoir.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := config.WriteDefaultConfig(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Created %s\n", path)
			fmt.Println("Set target.dsn and auth.jwt_secret, then run 'reservoir serve'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVarP(&path, "output", "o", "reservoir.yaml", "Path of the file to write")

	return cmd
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		Long:  "Print the configuration after defaults, the config file and RESERVOIR_* variables are applied. Secrets are masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if path := configPath(); path != "" {
				fmt.Printf("# Config file: %s\n", path)
			} else {
				fmt.Println("# Config file: (none found, using defaults)")
			}

			out, err := yaml.Marshal(redact(cfg))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}

const masked = "********"

// redact returns a copy of cfg with credentials masked.
func redact(cfg *config.YAMLConfig) *config.YAMLConfig {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return masked
	}
	out.Auth.JWTSecret = mask(out.Auth.JWTSecret)
	out.Store.DSN = mask(out.Store.DSN)
	out.Target.DSN = mask(out.Target.DSN)
	out.Cache.Redis.Password = mask(out.Cache.Redis.Password)

	out.Connections = make([]config.ConnectionYAML, len(cfg.Connections))
	for i, c := range cfg.Connections {
		c.Password = mask(c.Password)
		c.DSN = mask(c.DSN)
		if c.SSHTunnel != nil {
			t := *c.SSHTunnel
			t.Password = mask(t.Password)
			t.Passphrase = mask(t.Passphrase)
			c.SSHTunnel = &t
		}
		out.Connections[i] = c
	}
	return &out
}
