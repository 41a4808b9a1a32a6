// Package client is the command line front end of the entitlement
// reconciler. Every subcommand prints the resulting view as JSON on stdout.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orris-inc/adfree/internal/application/entitlement/dto"
	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/pubsub"
	"github.com/orris-inc/adfree/internal/infrastructure/scheduler"
	"github.com/orris-inc/adfree/internal/shared/constants"
	"github.com/orris-inc/adfree/internal/shared/goroutine"
)

type options struct {
	env        string
	configPath string
	userID     string
	accountID  string
	token      string
}

var opts options

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Reconcile the ad-free entitlement of a user",
		Long: `Run the entitlement reconciler the way an app would: read the local cache,
ask the authority, talk to the platform store and print what the UI would show.
Without --user the session is a guest and is never entitled.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.env, "env", "e", constants.EnvDevelopment, "Environment (development, test, production)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")
	flags.StringVarP(&opts.userID, "user", "u", "", "Signed-in user ID (empty for a guest)")
	flags.StringVar(&opts.accountID, "account", "", "Store account ID (default: the user ID)")
	flags.StringVar(&opts.token, "token", "", "Bearer token for the authority (default: signed locally)")

	cmd.AddCommand(
		newStatusCommand(),
		newRefreshCommand(),
		newPurchaseCommand(),
		newRestoreCommand(),
		newLogoutCommand(),
		newProductsCommand(),
		newWatchCommand(),
	)

	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the entitlement after the launch check",
		Args:  cobra.NoArgs,
		RunE: withGate(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			view, err := rt.gate.Start(ctx)
			return printView(out, view, err)
		}),
	}
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Ask the authority again, failing closed",
		Args:  cobra.NoArgs,
		RunE: withGate(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			view, err := rt.gate.Refresh(ctx)
			return printView(out, view, err)
		}),
	}
}

func newPurchaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purchase <product_id>",
		Short: "Buy a product and verify it with the authority",
		Args:  cobra.ExactArgs(1),
		RunE: withGate(func(ctx context.Context, rt *runtime, out io.Writer, args []string) error {
			view, err := rt.gate.Purchase(ctx, args[0])
			return printView(out, view, err)
		}),
	}
}

func newRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Re-apply past purchases from the store account",
		Args:  cobra.NoArgs,
		RunE: withGate(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			view, err := rt.gate.Restore(ctx)
			return printView(out, view, err)
		}),
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the cached entitlement of the user",
		Args:  cobra.NoArgs,
		RunE: withGate(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			if err := rt.gate.Logout(ctx); err != nil {
				return err
			}
			return printView(out, rt.gate.View(), nil)
		}),
	}
}

func newProductsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List the configured products as the store offers them",
		Args:  cobra.NoArgs,
		RunE: withGate(func(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
			catalog, err := rt.gate.Products(ctx)
			if err != nil {
				return err
			}
			if catalog == nil {
				catalog = entitlement.Catalog{}
			}
			return writeJSON(out, catalog)
		}),
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the entitlement current and print every change",
		Long: `Check on start, then revalidate on the configured interval and whenever the
authority announces a change for the user. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: withGate(runWatch),
	}
}

func runWatch(ctx context.Context, rt *runtime, out io.Writer, _ []string) error {
	orch := rt.gate.Orchestrator()
	if orch == nil {
		return printView(out, rt.gate.View(), entitlement.ErrGuestNotAllowed)
	}

	views, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	sched, err := scheduler.NewSchedulerManager(rt.logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.RegisterRevalidationJob(rt.cfg.Reconcile.RevalidateInterval, rt.cfg.Remote.FetchTimeout, rt.gate); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			rt.logger.Warnw("scheduler stop failed", "error", err)
		}
	}()

	if client, err := rt.redisClient(ctx); err == nil {
		bus := pubsub.NewRedisEntitlementEventBus(client, rt.logger)
		subCtx, cancel := context.WithCancel(ctx)
		done := goroutine.SafeGo(rt.logger, "entitlement-changes", func() {
			err := bus.Subscribe(subCtx, func(ctx context.Context, event dto.EntitlementChangedEvent) {
				if event.UserID != orch.UserID() {
					return
				}
				if _, err := rt.gate.Revalidate(ctx); err != nil {
					rt.logger.Warnw("revalidation after change failed", "error", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Warnw("entitlement change subscription ended", "error", err)
			}
		})
		defer func() {
			cancel()
			<-done
		}()
	} else {
		rt.logger.Infow("change notifications disabled", "error", err)
	}

	if _, err := rt.gate.Start(ctx); err != nil {
		rt.logger.Warnw("launch check failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case view := <-views:
			if err := writeJSON(out, view); err != nil {
				return err
			}
		}
	}
}

type gateFunc func(ctx context.Context, rt *runtime, out io.Writer, args []string) error

// withGate builds the runtime around fn and tears it down afterwards.
func withGate(fn gateFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if envVar := os.Getenv("ENV"); envVar != "" {
			opts.env = envVar
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, opts)
		if err != nil {
			return err
		}
		defer rt.Close()

		return fn(ctx, rt, cmd.OutOrStdout(), args)
	}
}

// printView writes the view even when err is set so the caller always sees
// what the UI would display.
func printView(out io.Writer, view entitlement.View, err error) error {
	if werr := writeJSON(out, view); werr != nil {
		return werr
	}
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
