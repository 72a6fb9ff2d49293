package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/motorlot/pkg/inventory"
	"github.com/dmitrymomot/motorlot/svc/billing"
)

func newInventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Bulk inventory operations",
	}
	cmd.AddCommand(newInventoryImportCmd())
	return cmd
}

func newInventoryImportCmd() *cobra.Command {
	var (
		owner   string
		schema  string
		batchID string
	)

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import cars from a CSV upload and bill the owner's subscription",
		Long: `Import a CSV upload for one owner. Rows already listed by the owner are
skipped; the remaining cars are charged once against the owner's active
subscription. Re-running with the same --batch-id does not bill twice.

Examples:
  billingd inventory import --owner 550e8400-e29b-41d4-a716-446655440000 --schema dealer stock.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("invalid owner ID: %w", err)
			}
			rs, err := inventory.SchemaByName(schema)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := inventory.ReadCSV(f)
			if err != nil {
				return err
			}
			if batchID == "" {
				batchID = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])) + "-" + uuid.NewString()[:8]
			}

			return withApp(cmd.Context(), func(ctx context.Context, app *billing.App, _ *slog.Logger) error {
				res, err := app.Resolver.Import(ctx, inventory.BatchRequest{
					BatchID: batchID,
					OwnerID: ownerID,
					Schema:  rs,
					Rows:    rows,
				})
				if res != nil {
					printBatch(cmd, res)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner account ID")
	cmd.Flags().StringVar(&schema, "schema", inventory.DealerSchema.Name, "row schema: dealer or seller")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "idempotency key for the batch charge")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func printBatch(cmd *cobra.Command, res *inventory.BatchResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch %s: %d submitted, %d invalid, %d duplicates, %d new, %d imported\n",
		res.BatchID, res.Submitted, res.Invalid(), res.Duplicates, res.NetNew, res.Persisted())
	if res.Charge != nil {
		a := res.Charge.Addition
		fmt.Fprintf(out, "Charged: %d within limit, %d ad-hoc, %s\n",
			a.WithinLimitCount, a.OverageCount, a.OverageCharge.StringFixed(2))
	}
	for _, e := range res.Rejected {
		fmt.Fprintf(out, "  %v\n", e)
	}
	for _, e := range res.Errors {
		if errors.Is(e.Err, inventory.ErrNoNewItems) {
			fmt.Fprintln(out, "No new cars in batch")
			continue
		}
		fmt.Fprintf(out, "  %v\n", e)
	}
}
