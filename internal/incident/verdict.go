package incident

import "maps"

// Decision is the triage classification of an incident.
type Decision string

const (
	// DecisionNone means the triage service did not return a decision.
	DecisionNone Decision = ""

	// DecisionHealing means the incident needs a healing action.
	DecisionHealing Decision = "healing"

	// DecisionFraud means the incident needs a fraud action.
	DecisionFraud Decision = "fraud"

	// DecisionHealingAndFraud means both agents may be run independently.
	DecisionHealingAndFraud Decision = "healing_and_fraud"
)

// Known reports whether d is one of the three decisions that license an agent.
func (d Decision) Known() bool {
	switch d {
	case DecisionHealing, DecisionFraud, DecisionHealingAndFraud:
		return true
	}
	return false
}

// Verdict is the triage result for one incident.
type Verdict struct {
	Decision            Decision `json:"decision,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	SuggestedResolution string   `json:"suggested_resolution,omitempty"`
	Error               string   `json:"error,omitempty"`
}

// Outcome is the flattened response of a remediation agent. Its keys depend on
// the agent category, so it stays a generic object.
type Outcome map[string]any

func (o Outcome) str(k string) string {
	s, _ := o[k].(string)
	return s
}

// RecommendedAction returns the healing agent's recommended action, if any.
func (o Outcome) RecommendedAction() string { return o.str("recommended_action") }

// Resolution returns the agent's resolution text, if any.
func (o Outcome) Resolution() string { return o.str("resolution") }

// UpdatedStatus returns the status the agent moved the incident to, if any.
func (o Outcome) UpdatedStatus() string { return o.str("updated_status") }

// Status returns the envelope status hoisted from the agent response, if any.
func (o Outcome) Status() string { return o.str("status") }

// Clone returns a shallow copy of o.
func (o Outcome) Clone() Outcome {
	if o == nil {
		return nil
	}
	return maps.Clone(o)
}
