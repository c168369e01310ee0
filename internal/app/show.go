package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent rule firings.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	firings, err := store.ListRecentFirings(ctx, opts.Limit)
	if err != nil {
		return err
	}

	if total, err := store.CountPricePoints(ctx); err == nil {
		fmt.Fprintf(os.Stdout, "price points stored: %d\n", total)
	}

	if len(firings) == 0 {
		fmt.Fprintln(os.Stdout, "no firings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tRule\tPrice")

	for _, firing := range firings {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\n",
			firing.FiredAt.UTC().Format(time.RFC3339),
			firing.RuleID,
			firing.TriggeringPrice.StringFixed(6),
		)
	}

	writer.Flush()
	return nil
}
