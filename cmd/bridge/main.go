package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	Version = "dev"
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Storefront, ERP and SMS integration backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is parsed")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(consumeCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(initializeCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(deleteCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the app, runs fn under a context cancelled by SIGINT or
// SIGTERM and releases everything the app opened.
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(envFile)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := fn(ctx, a); err != nil {
			a.log.Error("command failed", "command", cmd.Name(), "error", err)
			return err
		}
		return nil
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway",
		RunE: withApp(func(ctx context.Context, a *app) error {
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.gateway(ctx) })
			g.Go(func() error { return a.newScheduler(a.summaryJob()).Run(ctx) })
			return g.Wait()
		}),
	}
}

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run one consumer per queue topic",
		RunE: withApp(func(ctx context.Context, a *app) error {
			if _, err := a.services(); err != nil {
				return err
			}
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.consumers(ctx) })
			g.Go(func() error { return a.newScheduler(a.summaryJob()).Run(ctx) })
			return g.Wait()
		}),
	}
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run campaigns, stock notices, sync and the error summary on a minute ticker",
		RunE: withApp(func(ctx context.Context, a *app) error {
			jobs, err := a.jobs()
			if err != nil {
				return err
			}
			return a.newScheduler(jobs...).Run(ctx)
		}),
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the gateway, the consumers and the scheduler in one process",
		RunE: withApp(func(ctx context.Context, a *app) error {
			jobs, err := a.jobs()
			if err != nil {
				return err
			}
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.gateway(ctx) })
			g.Go(func() error { return a.consumers(ctx) })
			g.Go(func() error { return a.newScheduler(jobs...).Run(ctx) })
			return g.Wait()
		}),
	}
}

func initializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initialize",
		Short: "Rebuild the mirror tables and run a full sync",
		RunE: withApp(func(ctx context.Context, a *app) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			report, err := svc.syncs.Initialize(ctx)
			if err != nil {
				return err
			}
			fmt.Println("initialized:", report)
			return nil
		}),
	}
}

func syncCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push ERP changes to the storefront",
		Long: `Push ERP changes to the storefront.

Without --since the run starts at the last sync stamp and advances it.

Examples:
  bridge sync
  bridge sync --since 2026-10-01T00:00:00Z`,
		RunE: withApp(func(ctx context.Context, a *app) error {
			svc, err := a.services()
			if err != nil {
				return err
			}

			var report fmt.Stringer
			if since == "" {
				report, err = svc.syncs.SyncSinceLast(ctx)
			} else {
				t, perr := time.Parse(time.RFC3339, since)
				if perr != nil {
					return fmt.Errorf("--since: %w", perr)
				}
				report, err = svc.syncs.Sync(ctx, t)
			}
			if err != nil {
				return err
			}
			fmt.Println("synced:", report)
			return nil
		}),
	}
	cmd.Flags().StringVar(&since, "since", "", "sync changes at or after this RFC 3339 time")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <customer|discount|draft> [id]",
		Short: "Remove a mirrored customer, discount or draft hold",
		Long: `Remove a mirrored entity from the storefront and the mirror tables.

customer and discount need the ERP id. draft with an id deletes that draft's
hold and the storefront draft; without one it sweeps holds whose customer was
ticketed since.`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"customer", "discount", "draft"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id := args[0], ""
			if len(args) == 2 {
				id = args[1]
			}
			switch {
			case !slices.Contains(cmd.ValidArgs, kind):
				return fmt.Errorf("unknown kind %q", kind)
			case id == "" && kind != "draft":
				return fmt.Errorf("delete %s: id required", kind)
			}

			return withApp(func(ctx context.Context, a *app) error {
				svc, err := a.services()
				if err != nil {
					return err
				}
				switch kind {
				case "customer":
					return svc.syncs.DeleteCustomer(ctx, id)
				case "discount":
					return svc.syncs.DeleteDiscount(ctx, id)
				}
				if id == "" {
					return svc.drafts.Sweep(ctx)
				}
				return svc.drafts.DeleteDraft(ctx, id)
			})(cmd, args)
		},
	}
}
