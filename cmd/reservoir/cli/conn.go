package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/scheduler"
	"github.com/faucetdb/reservoir/internal/typemap"
)

var supportedDrivers = map[string]bool{
	"mysql": true, "postgres": true, "mssql": true, "sqlite": true, "snowflake": true,
}

func newConnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conn",
		Aliases: []string{"connection", "db"},
		Short:   "Manage source connections",
		Long:    "Add, remove, test, and inspect the customer databases Reservoir reads from.",
	}

	cmd.AddCommand(newConnAddCmd())
	cmd.AddCommand(newConnListCmd())
	cmd.AddCommand(newConnRemoveCmd())
	cmd.AddCommand(newConnTestCmd())
	cmd.AddCommand(newConnSchemaCmd())

	return cmd
}

// ---------- conn add ----------

func newConnAddCmd() *cobra.Command {
	var (
		c       config.ConnectionYAML
		sshHost string
		sshPort int
		sshUser string
		sshKey  string
		sshPass string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a source connection",
		Long: `Register a customer database. Name and driver are prompted for when omitted.

When --username is set without --password or --dsn and stdin is a terminal,
the password is read without echo.

Supported drivers: mysql, postgres, mssql, sqlite, snowflake
Storage locations: external (query in place), tenant_shared (shared store,
per-tenant role) and synced (copied into a private namespace; mysql only).`,
		Example: `  reservoir conn add --name shop --driver mysql --host db.internal --database shop \
      --username reader --password secret --location synced --schedule "0 3 * * *"
  reservoir conn add --name ledger --driver postgres --dsn "postgres://reader@pg/ledger"
  reservoir conn add --name private --driver mysql --host 10.0.0.5 --database app \
      --ssh-host bastion.example.com --ssh-user tunnel --ssh-key ~/.ssh/id_ed25519`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sshHost != "" {
				c.SSHTunnel = &config.SSHTunnelYAML{
					Host:           sshHost,
					Port:           sshPort,
					User:           sshUser,
					Password:       sshPass,
					PrivateKeyFile: sshKey,
				}
			}
			return runConnAdd(cmd.Context(), c)
		},
	}

	f := cmd.Flags()
	f.StringVar(&c.Name, "name", "", "Connection name (unique)")
	f.StringVar(&c.Driver, "driver", "", "Database driver (mysql, postgres, mssql, sqlite, snowflake)")
	f.StringVar(&c.Host, "host", "", "Database host")
	f.IntVar(&c.Port, "port", 0, "Database port (driver default when 0)")
	f.StringVar(&c.Database, "database", "", "Database name")
	f.StringVar(&c.Username, "username", "", "Database user")
	f.StringVar(&c.Password, "password", "", "Database password")
	f.StringVar(&c.Params, "params", "", "Extra driver options, key=value&... (snowflake: private_key_file=<pem>)")
	f.StringVar(&c.DSN, "dsn", "", "Full connection string, overrides the discrete fields")
	f.StringVar(&c.OrganizationID, "org", "", "Owning organization id")
	f.StringVar(&c.StorageLocation, "location", "external", "Storage location (external, tenant_shared, synced)")
	f.StringVar(&c.SyncSchedule, "schedule", "", "Cron expression for scheduled syncs (synced only)")
	f.StringVar(&sshHost, "ssh-host", "", "SSH bastion host")
	f.IntVar(&sshPort, "ssh-port", 22, "SSH bastion port")
	f.StringVar(&sshUser, "ssh-user", "", "SSH user")
	f.StringVar(&sshKey, "ssh-key", "", "Path to the SSH private key")
	f.StringVar(&sshPass, "ssh-password", "", "SSH password (when not using a key)")

	return cmd
}

func runConnAdd(ctx context.Context, c config.ConnectionYAML) error {
	if c.Name == "" {
		fmt.Print("Connection name: ")
		fmt.Scanln(&c.Name)
	}
	if c.Driver == "" {
		fmt.Print("Driver (mysql, postgres, mssql, sqlite, snowflake): ")
		fmt.Scanln(&c.Driver)
	}

	if c.Name == "" || c.Driver == "" {
		return errors.New("name and driver are required")
	}
	if !supportedDrivers[c.Driver] {
		return fmt.Errorf("unsupported driver %q; supported: mysql, postgres, mssql, sqlite, snowflake", c.Driver)
	}
	if c.DSN == "" && c.Host == "" && c.Driver != "sqlite" {
		return errors.New("--host or --dsn is required")
	}
	if c.Username != "" && c.Password == "" && c.DSN == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Printf("Password for %s: ", c.Username)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		c.Password = string(pw)
	}

	conn, err := c.ToModel()
	if err != nil {
		return err
	}
	if conn.SyncSchedule != "" {
		if conn.StorageLocation != model.StorageSynced {
			return errors.New("--schedule only applies to synced connections")
		}
		if err := scheduler.ValidateSchedule(conn.SyncSchedule); err != nil {
			return err
		}
	}

	a, err := openApp(ctx, false, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.CreateConnection(ctx, conn); err != nil {
		return fmt.Errorf("create connection: %w", err)
	}

	fmt.Printf("Added connection %q (driver=%s, location=%s, id=%d)\n",
		conn.Name, conn.Driver, conn.StorageLocation, conn.ID)
	if conn.StorageLocation == model.StorageSynced {
		fmt.Printf("Run 'reservoir sync init %s' to copy it into the internal store.\n", conn.Name)
	}
	return nil
}

// ---------- conn list ----------

func newConnListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List registered connections",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnList(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runConnList(ctx context.Context, jsonOutput bool) error {
	a, err := openApp(ctx, false, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	conns, err := a.store.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}

	if jsonOutput {
		return printJSON(os.Stdout, conns)
	}

	if len(conns) == 0 {
		fmt.Println("No connections configured. Use 'reservoir conn add' to add one.")
		return nil
	}

	fmt.Printf("%-5s %-20s %-10s %-14s %s\n", "ID", "NAME", "DRIVER", "LOCATION", "SCHEDULE")
	fmt.Printf("%-5s %-20s %-10s %-14s %s\n", "--", "----", "------", "--------", "--------")
	for _, c := range conns {
		schedule := c.SyncSchedule
		if schedule == "" {
			schedule = "-"
		}
		fmt.Printf("%-5d %-20s %-10s %-14s %s\n", c.ID, c.Name, c.Driver, c.StorageLocation, schedule)
	}
	return nil
}

// ---------- conn remove ----------

func newConnRemoveCmd() *cobra.Command {
	var dropData bool

	cmd := &cobra.Command{
		Use:     "remove <name|id>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove a connection",
		Long: `Remove a connection. A synced connection whose namespace still exists is
refused unless --drop-data is given, which drops the namespace first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnRemove(cmd.Context(), args[0], dropData)
		},
	}

	cmd.Flags().BoolVar(&dropData, "drop-data", false, "Drop the synced namespace too")

	return cmd
}

func runConnRemove(ctx context.Context, ref string, dropData bool) error {
	a, err := openApp(ctx, false, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := lookupConnection(ctx, a.store, ref)
	if err != nil {
		return err
	}

	rec, err := a.store.GetSyncRecordByConnection(ctx, conn.ID)
	switch {
	case err == nil:
		if !dropData {
			return fmt.Errorf("connection %q has synced data in %s; rerun with --drop-data", conn.Name, rec.Namespace)
		}
		if err := a.openTarget(ctx); err != nil {
			return err
		}
		if err := a.engine.DropSyncedData(ctx, conn.ID); err != nil {
			return fmt.Errorf("drop synced data: %w", err)
		}
		fmt.Printf("Dropped namespace %s\n", rec.Namespace)
	case !errors.Is(err, config.ErrNotFound):
		return fmt.Errorf("look up sync record: %w", err)
	}

	if err := a.store.DeleteConnection(ctx, conn.ID); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}

	fmt.Printf("Removed connection %q\n", conn.Name)
	return nil
}

// ---------- conn test ----------

func newConnTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <name|id>",
		Short: "Test a source connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnTest(cmd.Context(), args[0])
		},
	}
}

func runConnTest(ctx context.Context, ref string) error {
	a, err := openApp(ctx, false, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := lookupConnection(ctx, a.store, ref)
	if err != nil {
		return err
	}

	fmt.Printf("Testing connection %q (driver=%s)...\n", conn.Name, conn.Driver)

	c, err := a.registry.Open(ctx, connector.ConfigFromConnection(conn))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Disconnect()

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	fmt.Println("Connection successful.")
	return nil
}

// ---------- conn schema ----------

type schemaIntrospector interface {
	Introspect(ctx context.Context) (*model.Schema, error)
}

func newConnSchemaCmd() *cobra.Command {
	var tableName string

	cmd := &cobra.Command{
		Use:   "schema <name|id>",
		Short: "Print the source schema as JSON",
		Long: `Introspect the source and print its tables as JSON. With --table, print one
table together with the PostgreSQL columns a sync would create for it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnSchema(cmd.Context(), args[0], tableName)
		},
	}

	cmd.Flags().StringVar(&tableName, "table", "", "Show a single table and its mapped columns")

	return cmd
}

func runConnSchema(ctx context.Context, ref, tableName string) error {
	a, err := openApp(ctx, false, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := lookupConnection(ctx, a.store, ref)
	if err != nil {
		return err
	}

	c, err := a.registry.Open(ctx, connector.ConfigFromConnection(conn))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Disconnect()

	in, ok := c.(schemaIntrospector)
	if !ok {
		return fmt.Errorf("driver %s does not support schema introspection", conn.Driver)
	}
	schema, err := in.Introspect(ctx)
	if err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}

	if tableName != "" {
		t := schema.Table(tableName)
		if t == nil {
			return fmt.Errorf("table %q not found in %s", tableName, schema.Database)
		}
		return printJSON(os.Stdout, typemap.MapTable(*t))
	}
	return printJSON(os.Stdout, schema)
}
