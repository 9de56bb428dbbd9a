package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/archive"
	"github.com/railzwaylabs/paygate/internal/billing"
	"github.com/railzwaylabs/paygate/internal/bootstrap"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/events"
	"github.com/railzwaylabs/paygate/internal/migration"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment"
	"github.com/railzwaylabs/paygate/internal/redis"
	"github.com/railzwaylabs/paygate/internal/scheduler"
	"github.com/railzwaylabs/paygate/internal/security/vault"
	"github.com/railzwaylabs/paygate/internal/server"
	"github.com/railzwaylabs/paygate/internal/tiersync"
	"github.com/railzwaylabs/paygate/pkg/db"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "paygate",
		Short:   "Payment gateway with webhook reconciliation",
		Version: readVersionFromEnv(),
	}
	root.PersistentFlags().String("config", "", "config file (defaults to ./config.yaml or /etc/paygate)")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			_ = os.Setenv("PAYGATE_CONFIG_FILE", path)
		}
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSweepCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver, billing API and replay scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				core(),
				redis.Module,
				migration.OnBoot,
				fx.Invoke(bootstrap.EnforceSchemaGate),
				scheduler.Module,
				fx.Invoke(scheduler.Start),
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and activate the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				fx.WithLogger(fxLogger),
				db.Module,
				migration.Module,
			)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("migrate failed: %w", err)
			}
			return app.Stop(context.Background())
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Replay failed and stuck webhook events once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			app := fx.New(
				core(),
				redis.Module,
				fx.Invoke(bootstrap.EnforceSchemaGate),
				scheduler.Module,
				fx.Populate(&sched),
			)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			report, err := sched.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d processed=%d failed=%d ignored=%d skipped=%t\n",
				report.Scanned, report.Processed, report.Failed, report.Ignored, report.Skipped)
			return nil
		},
	}
}

// core is everything that reconciles: config, storage, providers and the
// billing writers.
func core() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.WithLogger(fxLogger),
		fx.Invoke(func(trace.TracerProvider) {}),
		fx.Provide(newSnowflake),
		db.Module,
		clock.Module,
		events.Module,
		archive.Module,
		vault.Module,
		payment.Module,
		billing.Module,
		tiersync.Module,
		bootstrap.Module,
	)
}

func fxLogger(log *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: log.Named("fx")}
}

func newSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.App.NodeID)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
