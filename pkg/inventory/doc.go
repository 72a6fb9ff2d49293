// Package inventory imports cars in bulk and keeps subscription usage in line
// with what was actually stored.
//
// A batch goes through four steps:
//
//  1. Rows are decoded with a RowSchema. DealerSchema and SellerSchema cover
//     the two upload formats; invalid rows are reported and skipped.
//  2. Each candidate is resolved against the Catalog and checked for an
//     existing car of the same owner, by external ID (VIN or chassis number)
//     or by the composite of name, make and variant. Repeats inside the batch
//     count as duplicates of their first occurrence.
//  3. The net-new count is charged to the owner's active subscription with a
//     single usage change, so overage produces one invoice line per batch.
//  4. Cars are stored one by one. A failing row does not stop the others; the
//     usage of failed rows is removed again before Import returns.
//
// When every row is a duplicate Import returns a result with no cars and a
// single ErrNoNewItems entry instead of charging anything.
package inventory
