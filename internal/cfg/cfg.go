package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the application-level settings of remedy. Library packages
// (log, httpserver, otelx, ...) register their own flags alongside these.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	TriageServiceURL      string
	AgentServiceURL       string
	ServiceTimeoutSeconds int

	IncidentsFile string
	DatabaseURL   string

	ProgressStep time.Duration
	BatchDelay   time.Duration

	SlackWebhookURL string
	KafkaBrokers    string
	KafkaTopic      string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.TriageServiceURL, "triage-service-url", "", "base URL of the triage service")
	fs.StringVar(&c.AgentServiceURL, "agent-service-url", "", "base URL of the remediation agent service (empty = triage service URL)")
	fs.IntVar(&c.ServiceTimeoutSeconds, "service-timeout-seconds", 30, "timeout for a single triage or agent call (1..600)")
	fs.StringVar(&c.IncidentsFile, "incidents-file", "", "JSON or YAML file with the incident list")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the incident registry (overrides incidents-file)")
	fs.DurationVar(&c.ProgressStep, "progress-step", 1200*time.Millisecond, "delay between remediation progress messages")
	fs.DurationVar(&c.BatchDelay, "batch-delay", time.Second, "pause between incidents in a batch triage run")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for workflow notifications")
	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma separated Kafka brokers for workflow events (empty = disabled)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "remedy-events", "Kafka topic for workflow events")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Upstream services
	if err := checkURL("TRIAGE_SERVICE_URL", c.TriageServiceURL, true); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("AGENT_SERVICE_URL", c.AgentServiceURL, false); err != nil {
		errs = append(errs, err)
	}
	if c.ServiceTimeoutSeconds <= 0 || c.ServiceTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid SERVICE_TIMEOUT_SECONDS %d (must be 1..600)", c.ServiceTimeoutSeconds))
	}

	// Some incident source is required
	if c.IncidentsFile == "" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("one of INCIDENTS_FILE or DATABASE_URL is required"))
	}

	if c.ProgressStep <= 0 {
		errs = append(errs, fmt.Errorf("invalid PROGRESS_STEP %s (must be positive)", c.ProgressStep))
	}
	if c.BatchDelay <= 0 {
		errs = append(errs, fmt.Errorf("invalid BATCH_DELAY %s (must be positive)", c.BatchDelay))
	}

	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ServiceTimeout returns the per-call upstream timeout.
func (c *Config) ServiceTimeout() time.Duration {
	return time.Duration(c.ServiceTimeoutSeconds) * time.Second
}

// Brokers splits KafkaBrokers, dropping empty entries.
func (c *Config) Brokers() []string {
	var out []string
	for b := range strings.SplitSeq(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func checkURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q (must be an http(s) URL)", name, raw)
	}
	return nil
}
