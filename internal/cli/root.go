package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "mailerctl",
	Short:         "Campaign mailer operations CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newRetryCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newEnqueueCmd())
	rootCmd.AddCommand(newSignWebhookCmd())
}

// withApp loads configuration, wires the application and hands it to fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
