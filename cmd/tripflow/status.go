package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripflow/tripflow/internal/model"
	"github.com/tripflow/tripflow/pkg/checkpoint"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show canonical table sizes and recent runs",
	Long: `Show the canonical row count per category, and with --category and
--period the run history of one month.

Examples:
  tripflow status
  tripflow status -c green -p 2019-01`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&categoryFlag, "category", "c", "", "Trip category (yellow, green)")
	statusCmd.Flags().StringVarP(&periodFlag, "period", "p", "", "Period (YYYY-MM), requires --category")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireSchemas(ctx); err != nil {
		return err
	}

	if categoryFlag != "" && periodFlag != "" {
		return printRunHistory(ctx, a)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tROWS")
	for _, category := range allCategories {
		n, err := a.db.Store(category).Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\n", category, n)
	}
	return w.Flush()
}

func printRunHistory(ctx context.Context, a *app) error {
	category, err := model.ParseCategory(categoryFlag)
	if err != nil {
		return err
	}
	period, err := model.ParsePeriod(periodFlag)
	if err != nil {
		return err
	}

	entries, err := a.ledger.Find(ctx, category, period)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("no runs recorded for %s %s\n", category, period)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPHASE\tREAD\tEXCL\tDUP\tINS\tSKIP\tSOURCE\tERROR")
	for _, e := range entries {
		errMsg := truncate(e.Error, 60)
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime), phaseLabel(e),
			e.RowsRead, e.Excluded, e.Duplicates, e.Inserted, e.Skipped,
			e.SourceFile, errMsg)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// Leftover staging artifacts mean a promote failed and its batch is
	// still waiting for inspection or a re-run.
	infos, err := a.stager.List(ctx, category, period)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("staged artifact awaiting promotion: %s (%d bytes)\n", info.Key, info.Size)
	}
	return nil
}

// truncate shortens s to at most max runes, never splitting a rune.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func phaseLabel(e *checkpoint.Entry) string {
	if e.Done() {
		return e.Phase
	}
	return e.Phase + " (running)"
}
