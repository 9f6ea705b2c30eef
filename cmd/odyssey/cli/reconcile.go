package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// ExitMismatch is returned by ReconcileCommand when the ledger disagrees
// with on-hand stock.
const ExitMismatch = 10

// Reconciler compares ledger totals with on-hand totals.
type Reconciler interface {
	Reconcile(ctx context.Context, productID int64) (inventory.Reconciliation, error)
	ReconcileAll(ctx context.Context) ([]inventory.Reconciliation, error)
}

// ReconcileOptions defines available flags for the reconcile command.
type ReconcileOptions struct {
	ProductID  int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary describes the JSON response for reconcile.
type ReconcileSummary struct {
	OK         bool                       `json:"ok"`
	Mismatched []inventory.Reconciliation `json:"mismatched"`
}

// ReconcileCommand runs a reconciliation and prints the outcome. With a
// product id only that product is checked.
func ReconcileCommand(ctx context.Context, r Reconciler, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ProductID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "reconcile: --product must be positive")
		return 1
	}

	mismatched, err := runReconcile(ctx, r, opts.ProductID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	if mismatched == nil {
		mismatched = []inventory.Reconciliation{}
	}

	if opts.JSONOutput {
		summary := ReconcileSummary{OK: len(mismatched) == 0, Mismatched: mismatched}
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, mismatched)
	}
	if len(mismatched) > 0 {
		return ExitMismatch
	}
	return 0
}

func runReconcile(ctx context.Context, r Reconciler, productID int64) ([]inventory.Reconciliation, error) {
	if productID == 0 {
		return r.ReconcileAll(ctx)
	}
	rec, err := r.Reconcile(ctx, productID)
	if err != nil {
		return nil, err
	}
	if rec.Balanced() {
		return nil, nil
	}
	return []inventory.Reconciliation{rec}, nil
}

func renderReconcileHuman(w io.Writer, mismatched []inventory.Reconciliation) {
	if len(mismatched) == 0 {
		_, _ = fmt.Fprintln(w, "ledger balanced")
		return
	}
	_, _ = fmt.Fprintf(w, "%d product(s) out of balance\n", len(mismatched))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PRODUCT\tLEDGER\tON HAND\tDRIFT")
	for _, rec := range mismatched {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", rec.ProductID, rec.LedgerTotal, rec.OnHandTotal, rec.OnHandTotal-rec.LedgerTotal)
	}
	_ = tw.Flush()
}
