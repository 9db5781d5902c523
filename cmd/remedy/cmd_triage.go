package main

import (
	"github.com/spf13/cobra"
)

var triageFlags struct {
	key string
}

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Triage a single incident row",
	Args:  cobra.NoArgs,
	RunE:  runTriage,
}

func init() {
	triageCmd.Flags().StringVar(&triageFlags.key, "key", "", "row key: transaction id or list position (required)")
	_ = triageCmd.MarkFlagRequired("key")
}

func runTriage(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	w, err := newWorkflow(ctx, 0, 0)
	if err != nil {
		return err
	}
	defer w.Close()

	e, err := w.lookup(ctx, triageFlags.key)
	if err != nil {
		return err
	}
	w.triage.Run(ctx, e)
	return printJSON(cmd, w.view(e))
}
