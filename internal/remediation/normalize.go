package remediation

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/linnemanlabs/remedy/internal/incident"
)

// Normalize flattens an agent response. A non-null "result" envelope is
// hoisted to the top level with the top-level "status" attached (it replaces
// any status inside the envelope). A response without an envelope is returned
// as a copy, unchanged.
func Normalize(resp map[string]any) incident.Outcome {
	result, ok := resp["result"]
	if !ok || result == nil {
		return incident.Outcome(maps.Clone(resp))
	}

	var out incident.Outcome
	if inner, isObj := result.(map[string]any); isObj {
		out = incident.Outcome(maps.Clone(inner))
	} else {
		out = incident.Outcome{"result": result}
	}
	if out == nil {
		out = incident.Outcome{}
	}

	if status, ok := resp["status"]; ok {
		out["status"] = status
	} else {
		delete(out, "status")
	}
	return out
}

// DecodeOutcome parses a raw agent response and normalizes it.
func DecodeOutcome(raw json.RawMessage) (incident.Outcome, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("decode agent response: empty body")
	}
	return Normalize(resp), nil
}
