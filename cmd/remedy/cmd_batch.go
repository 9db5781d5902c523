package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/remedy/internal/triage"
)

var batchFlags struct {
	delay time.Duration
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Triage every incident in order and print the resulting rows",
	Args:  cobra.NoArgs,
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().DurationVar(&batchFlags.delay, "batch-delay", triage.DefaultBatchDelay, "pause between incidents")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	w, err := newWorkflow(ctx, batchFlags.delay, 0)
	if err != nil {
		return err
	}
	defer w.Close()

	entries, err := w.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list incidents: %w", err)
	}

	res := w.batches.Run(ctx, entries)
	rows := make([]rowView, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, w.view(e))
	}

	if err := printJSON(cmd, map[string]any{"batch": res, "rows": rows}); err != nil {
		return err
	}
	if res.Failed > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d incidents failed triage\n", res.Failed, res.Total)
	}
	return nil
}
