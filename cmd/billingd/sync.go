package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/motorlot/svc/billing"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <subscription-id>",
		Short: "Pull a subscription's status from the gateway and reconcile it",
		Long: `Fetch the gateway's view of one subscription and apply the same transitions
a webhook would: a renewed period rolls usage over, a non-active status ends
the subscription. Use it when webhook deliveries were lost.

Examples:
  billingd sync 550e8400-e29b-41d4-a716-446655440000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid subscription ID: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *billing.App, _ *slog.Logger) error {
				outcome, err := app.Reconciler.Sync(ctx, id)
				if err != nil {
					return fmt.Errorf("sync %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Subscription %s: %s\n", id, outcome)
				return nil
			})
		},
	}
}
