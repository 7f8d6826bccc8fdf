package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/query"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants of the shared store",
		Long: `Map tenants onto the database roles that own their schema in the shared
store. The roles themselves are created by the store's administrator.`,
	}

	cmd.AddCommand(newTenantAddCmd())
	cmd.AddCommand(newTenantListCmd())
	cmd.AddCommand(newTenantRemoveCmd())

	return cmd
}

func newTenantAddCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:     "add <tenant-id>",
		Short:   "Map a tenant onto its database role",
		Args:    cobra.ExactArgs(1),
		Example: `  reservoir tenant add acme --role tenant_acme`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantAdd(cmd.Context(), args[0], role)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Database role of the tenant (required)")
	cmd.MarkFlagRequired("role")

	return cmd
}

func runTenantAdd(ctx context.Context, id, role string) error {
	a, err := openApp(ctx, false, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := query.ValidateIdentifier(role); err != nil {
		return fmt.Errorf("invalid role: %w", err)
	}

	t := &model.Tenant{ID: id, RoleName: role}
	if err := a.store.CreateTenant(ctx, t); err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	fmt.Printf("Added tenant %q (role=%s)\n", id, role)
	return nil
}

func newTenantListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			tenants, err := a.store.ListTenants(cmd.Context())
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}
			if jsonOutput {
				return printJSON(os.Stdout, tenants)
			}
			if len(tenants) == 0 {
				fmt.Println("No tenants configured. Use 'reservoir tenant add' to add one.")
				return nil
			}
			fmt.Printf("%-24s %s\n", "TENANT", "ROLE")
			for _, t := range tenants {
				fmt.Printf("%-24s %s\n", t.ID, t.RoleName)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newTenantRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <tenant-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a tenant mapping",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteTenant(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete tenant %q: %w", args[0], err)
			}
			fmt.Printf("Removed tenant %q\n", args[0])
			return nil
		},
	}
}
