// Package slack posts workflow events to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/remedy/internal/events"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends workflow events to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Publish is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Publish implements events.Publisher.
func (n *Notifier) Publish(ctx context.Context, ev events.Event) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(&ev))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(ev *events.Event) map[string]any {
	blocks := []map[string]any{
		headerBlock(ev),
		fieldsBlock(ev),
	}
	if s := summaryBlock(ev); s != nil {
		blocks = append(blocks, map[string]any{"type": "divider"}, s)
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(ev))
	return map[string]any{"blocks": blocks}
}

func headerBlock(ev *events.Event) map[string]any {
	var text string
	switch ev.Kind {
	case events.KindTriageCompleted:
		text = "Triage " + verb(ev) + ": " + ev.Key
	case events.KindAgentCompleted:
		text = agentTitle(ev.Agent) + " " + verb(ev) + ": " + ev.Key
	case events.KindBatchCompleted:
		text = fmt.Sprintf("Batch Triage Complete: %d incidents", ev.Total)
	default:
		text = string(ev.Kind)
	}

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": statusEmoji(ev) + " " + text,
		},
	}
}

func verb(ev *events.Event) string {
	if ev.IsFailure() {
		return "Failed"
	}
	return "Complete"
}

func agentTitle(agent string) string {
	if agent == "" {
		return "Agent"
	}
	return strings.ToUpper(agent[:1]) + agent[1:] + " Agent"
}

func fieldsBlock(ev *events.Event) map[string]any {
	var fields []map[string]any
	add := func(label, value string) {
		if value == "" {
			return
		}
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:* %s", label, value),
		})
	}

	switch ev.Kind {
	case events.KindBatchCompleted:
		add("Incidents", fmt.Sprint(ev.Total))
		add("Failed", fmt.Sprint(ev.Failed))
		add("Batch", ev.BatchID)
	default:
		add("Incident", ev.Key)
		add("Decision", string(ev.Decision))
		add("Agent", ev.Agent)
		add("Status", ev.Status)
	}
	if len(fields) == 0 {
		add("Event", string(ev.Kind))
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

// summaryBlock renders the error or the verdict/outcome summary, if any.
func summaryBlock(ev *events.Event) map[string]any {
	label, text := "Summary", ev.Summary
	if ev.Error != "" {
		label, text = "Error", ev.Error
	}
	if text == "" {
		return nil
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n\n%s", label, truncate(text, maxSummaryLen)),
		},
	}
}

func contextBlock(ev *events.Event) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("remedy • %s • %s", ev.ID, ev.Time.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func statusEmoji(ev *events.Event) string {
	if ev.IsFailure() {
		return "\U0001f534" // red circle
	}
	if ev.Kind == events.KindTriageCompleted && !ev.Decision.Known() {
		return "\U0001f7e1" // yellow circle: no agent licensed
	}
	return "\U0001f7e2" // green circle
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
