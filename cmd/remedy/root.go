// Remedy runs the incident triage and remediation workflow from the command
// line, in-process, against the configured triage and agent services.
//
// Usage:
//
//	remedy batch -f incidents.json --triage-url=http://triage:8000
//	remedy triage -f incidents.json --key=<key>
//	remedy agent -f incidents.json --key=<key> --type=healing|fraud
//	remedy import -f incidents.yaml --database-url=postgres://...
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/spf13/cobra"
)

const appName = "remedy"

var rootFlags struct {
	file         string
	databaseURL  string
	triageURL    string
	agentURL     string
	timeout      time.Duration
	slackWebhook string
	kafkaBrokers []string
	kafkaTopic   string
}

// logCfg is registered on a stdlib FlagSet and bridged into cobra so the CLI
// shares its logging flags with the server.
var logCfg log.Config

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Incident triage and remediation workflow",
	Long: "Remedy triages transaction incidents through the triage service and\n" +
		"dispatches healing or fraud remediation agents based on the verdict.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := logCfg.Validate(); err != nil {
			return fmt.Errorf("log config: %w", err)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.file, "file", "f", "", "JSON or YAML incident list")
	pf.StringVar(&rootFlags.databaseURL, "database-url", "", "PostgreSQL incident registry (used when --file is empty)")
	pf.StringVar(&rootFlags.triageURL, "triage-url", "http://localhost:8000", "triage service base URL")
	pf.StringVar(&rootFlags.agentURL, "agent-url", "", "agent service base URL (empty = triage URL)")
	pf.DurationVar(&rootFlags.timeout, "timeout", 30*time.Second, "per-call service timeout")
	pf.StringVar(&rootFlags.slackWebhook, "slack-webhook-url", "", "publish workflow events to this Slack webhook")
	pf.StringSliceVar(&rootFlags.kafkaBrokers, "kafka-brokers", nil, "publish workflow events to these Kafka brokers")
	pf.StringVar(&rootFlags.kafkaTopic, "kafka-topic", "remedy-events", "Kafka topic for workflow events")

	gofs := flag.NewFlagSet(appName, flag.ContinueOnError)
	logCfg.RegisterFlags(gofs)
	pf.AddGoFlagSet(gofs)

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(triageCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(importCmd)

	v.AppName = appName
	v.Component = "cli"
	rootCmd.Version = v.Get().Version
}

// errNoSource is returned when neither a file nor a database is given.
var errNoSource = errors.New("one of --file or --database-url is required")

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
