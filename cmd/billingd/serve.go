package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/motorlot/pkg/httpserver"
	"github.com/dmitrymomot/motorlot/svc/billing"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve gateway webhooks, health checks and metrics",
		Long: `Serve the webhook endpoints of every configured payment gateway.

Routes:
  POST /webhooks/stripe   Stripe events (always enabled)
  POST /webhooks/paddle   Paddle events (when PADDLE_WEBHOOK_SECRET is set)
  GET  /healthz, /readyz  liveness and dependency readiness
  GET  /metrics           Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *billing.App, log *slog.Logger) error {
				srv := httpserver.NewFromConfig(app.Config().HTTP, httpserver.WithLogger(log))
				return srv.Run(ctx, app.Router())
			})
		},
	}
}
