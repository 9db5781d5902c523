package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

var agentFlags struct {
	key          string
	agent        string
	progressStep time.Duration
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Triage an incident row and run a remediation agent on it",
	Long: "Triages the row, then runs the requested agent if the verdict allows it.\n" +
		"The healing agent needs a healing verdict, the fraud agent a fraud verdict;\n" +
		"a healing_and_fraud verdict allows either agent.",
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	f := agentCmd.Flags()
	f.StringVar(&agentFlags.key, "key", "", "row key: transaction id or list position (required)")
	f.StringVar(&agentFlags.agent, "type", "", "agent to run: healing or fraud (required)")
	f.DurationVar(&agentFlags.progressStep, "progress-step", remediation.DefaultProgressStep, "delay between progress messages")

	_ = agentCmd.MarkFlagRequired("key")
	_ = agentCmd.MarkFlagRequired("type")
}

func runAgent(cmd *cobra.Command, _ []string) error {
	agent, err := remediation.ParseAgent(agentFlags.agent)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	w, err := newWorkflow(ctx, 0, agentFlags.progressStep)
	if err != nil {
		return err
	}
	defer w.Close()

	e, err := w.lookup(ctx, agentFlags.key)
	if err != nil {
		return err
	}

	st := w.triage.Run(ctx, e)
	if st.Verdict == nil {
		return fmt.Errorf("triage %q failed: %s", e.Key, st.TriageError)
	}

	st, err = w.agents.Run(ctx, e, agent)
	if err != nil {
		return fmt.Errorf("%s on %q: %w", agent.DisplayName(), e.Key, err)
	}
	for i, msg := range st.AgentProgressMessages {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s\n", i+1, len(st.AgentProgressMessages), msg)
	}
	if err := printJSON(cmd, w.view(e)); err != nil {
		return err
	}
	if st.AgentError != "" {
		return fmt.Errorf("%s failed: %s", agent.DisplayName(), st.AgentError)
	}
	return nil
}
