// Command paymentctl runs maintenance jobs against the payment store: it
// replays queued crediting steps, resolves stale pending payments and prints
// the fee schedule.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"savings/internal/app"
	"savings/internal/config"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Maintenance commands for the savings payment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(feesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// withContainer loads configuration, connects and runs fn with the wired services.
func withContainer(ctx context.Context, fn func(*app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := app.NewLogger(cfg.App)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	container, err := app.Build(ctx, cfg, app.CLIPool, logger.Named("paymentctl"))
	if err != nil {
		logger.Error("failed to connect", zap.Error(err))
		return err
	}
	defer container.Close()

	return fn(container)
}
