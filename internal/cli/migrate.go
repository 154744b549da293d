package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return db.Migrate(ctx, a.DB, a.Config.DB.MigrationsTable, a.Logger)
			})
		},
	}
}
