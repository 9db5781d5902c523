package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/remedy/internal/incident"
)

// Resolve fills in a missing decision when the reason mentions both a healing
// and a fraud concern. Every other verdict passes through unchanged,
// including decisions outside the known set.
func Resolve(v incident.Verdict) incident.Verdict {
	if v.Decision != incident.DecisionNone {
		return v
	}
	reason := strings.ToLower(v.Reason)
	if strings.Contains(reason, "heal") && strings.Contains(reason, "fraud") {
		v.Decision = incident.DecisionHealingAndFraud
	}
	return v
}

// wireVerdict tolerates the loose shapes the triage service returns: a null
// decision and an error field that is not always a string.
type wireVerdict struct {
	Decision            *string         `json:"decision"`
	Reason              string          `json:"reason"`
	SuggestedResolution string          `json:"suggested_resolution"`
	Error               json.RawMessage `json:"error"`
}

// DecodeVerdict parses a raw triage response and runs it through Resolve.
func DecodeVerdict(raw json.RawMessage) (incident.Verdict, error) {
	var w wireVerdict
	if err := json.Unmarshal(raw, &w); err != nil {
		return incident.Verdict{}, fmt.Errorf("decode triage verdict: %w", err)
	}

	v := incident.Verdict{
		Reason:              w.Reason,
		SuggestedResolution: w.SuggestedResolution,
		Error:               errorText(w.Error),
	}
	if w.Decision != nil {
		v.Decision = incident.Decision(*w.Decision)
	}
	return Resolve(v), nil
}

func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
