package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/reservoir/internal/transfer"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy synced connections into the internal store",
		Long: `Start, drive and inspect syncs of connections whose storage location is
"synced". 'sync init' provisions the namespace and queues tables; 'sync run'
transfers queued chunks until the queue is empty or the budget runs out.`,
	}

	cmd.AddCommand(newSyncInitCmd())
	cmd.AddCommand(newSyncRunCmd())
	cmd.AddCommand(newSyncStatusCmd())
	cmd.AddCommand(newSyncResetCmd())

	return cmd
}

func newSyncInitCmd() *cobra.Command {
	var (
		run        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "init <connection>",
		Short: "Provision the namespace and queue every table for transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, true, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			conn, err := lookupConnection(ctx, a.store, args[0])
			if err != nil {
				return err
			}
			res, err := a.engine.InitializeDataTransfer(ctx, conn.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(os.Stdout, res); err != nil {
					return err
				}
			} else {
				printInitResult(res)
			}

			if run && len(res.Queued) > 0 {
				return runQueue(ctx, a.engine, 0, jsonOutput)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&run, "run", false, "Drain the queue right away")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printInitResult(res *transfer.InitResult) {
	fmt.Printf("Sync %d into %s: %s\n", res.SyncID, res.Namespace, res.Status)
	fmt.Printf("  queued:  %d\n", len(res.Queued))
	fmt.Printf("  skipped: %d (already up to date)\n", len(res.Skipped))
	if len(res.Failed) > 0 {
		fmt.Printf("  failed:  %d\n", len(res.Failed))
		for _, f := range res.Failed {
			fmt.Printf("    %s: %s\n", f.Table, f.Error)
		}
	}
}

func newSyncRunCmd() *cobra.Command {
	var (
		budget     time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transfer queued chunks until the queue is empty or the budget runs out",
		Long: `Process the sync queue across all connections. The default budget comes from
transfer.budget; pass --budget 0 to use it or a duration to override it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, true, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			return runQueue(ctx, a.engine, budget, jsonOutput)
		},
	}

	cmd.Flags().DurationVar(&budget, "budget", 0, "Time budget for this run (0 uses transfer.budget)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runQueue(ctx context.Context, engine *transfer.Engine, budget time.Duration, jsonOutput bool) error {
	res, err := engine.ProcessSyncQueue(ctx, budget)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(os.Stdout, res)
	}

	fmt.Printf("Processed %d chunks, %d rows in %s\n",
		res.ItemsProcessed, res.RowsTransferred, time.Duration(res.DurationMs)*time.Millisecond)
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if res.Complete {
		fmt.Println("Queue is empty.")
	} else {
		fmt.Println("Budget exhausted; run again to continue.")
	}
	return nil
}

func newSyncStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <connection>",
		Short: "Show the sync record and queue of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, true, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			conn, err := lookupConnection(ctx, a.store, args[0])
			if err != nil {
				return err
			}
			report, err := a.engine.SyncStatus(ctx, conn.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, report)
			}
			printStatus(report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printStatus(r *transfer.StatusReport) {
	rec := r.Record
	fmt.Printf("Namespace: %s\n", rec.Namespace)
	fmt.Printf("Status:    %s (%s)\n", rec.Status, rec.Progress.Stage)
	if rec.LastSyncAt != nil {
		fmt.Printf("Last sync: %s\n", rec.LastSyncAt.Format(time.RFC3339))
	}
	if rec.NextRunAt != nil {
		fmt.Printf("Next run:  %s\n", rec.NextRunAt.Format(time.RFC3339))
	}
	if rec.LastError != "" {
		fmt.Printf("Error:     %s\n", rec.LastError)
	}
	c := r.Counts
	fmt.Printf("Queue:     %d total, %d pending, %d processing, %d completed, %d failed\n",
		c.Total, c.Pending, c.Processing, c.Completed, c.Error)

	if len(r.Items) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("%-32s %-11s %12s %12s\n", "TABLE", "STATUS", "OFFSET", "ROWS")
	for _, it := range r.Items {
		fmt.Printf("%-32s %-11s %12d %12d\n", it.TableName, it.Status, it.LastRowOffset, it.TotalRows)
		if it.ErrorMessage != "" {
			fmt.Printf("  %s\n", it.ErrorMessage)
		}
	}
}

func newSyncResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <connection>",
		Short: "Put failed queue items back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, true, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			conn, err := lookupConnection(ctx, a.store, args[0])
			if err != nil {
				return err
			}
			n, err := a.engine.ResetFailedItems(ctx, conn.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d failed items of %q\n", n, conn.Name)
			return nil
		},
	}
}
