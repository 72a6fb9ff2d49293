package main

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/motorlot/svc/billing"
)

func newPackagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Manage the subscription package catalog",
	}
	cmd.AddCommand(newPackagesImportCmd(), newPackagesListCmd())
	return cmd
}

func newPackagesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or replace packages from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *billing.App, _ *slog.Logger) error {
				n, err := app.SeedPackagesFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d package(s)\n", n)
				return nil
			})
		},
	}
}

func newPackagesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the package catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *billing.App, _ *slog.Logger) error {
				pkgs, err := app.Packages.List(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tINTERVAL\tPRICE\tCARS\tAD-HOC\tROLE")
				for _, p := range pkgs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%d\t%s\t%s\n",
						p.ID, p.Title, p.Interval, p.Price().StringFixed(2), p.Currency,
						p.CarLimit, p.AdHocPricePerCar.StringFixed(2), p.TargetRole)
				}
				return w.Flush()
			})
		},
	}
}
