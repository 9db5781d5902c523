// Package remediation drives the remediation agents for a triaged incident:
// a paced sequence of progress messages followed by one call to the
// agent-specific service, whose response is flattened into an Outcome and
// stored on the row.
package remediation

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/remedy/internal/incident"
)

// Agent identifies a remediation agent.
type Agent string

const (
	Healing Agent = "healing"
	Fraud   Agent = "fraud"
)

var (
	// ErrUnknownAgent is returned for agent names other than healing and fraud.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrNoVerdict is returned when the row has not been triaged yet.
	ErrNoVerdict = errors.New("incident has no triage verdict")

	// ErrNotEligible is returned when the row's verdict does not license the agent.
	ErrNotEligible = errors.New("agent not eligible for triage decision")

	// ErrAgentBusy is returned while an agent run is already in progress on the row.
	ErrAgentBusy = errors.New("agent run already in progress")
)

// ParseAgent validates an agent name.
func ParseAgent(s string) (Agent, error) {
	switch a := Agent(s); a {
	case Healing, Fraud:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAgent, s)
}

// DisplayName is the human-readable agent name used in progress messages.
func (a Agent) DisplayName() string {
	switch a {
	case Healing:
		return "Healing Agent"
	case Fraud:
		return "Fraud Agent"
	}
	return string(a)
}

// Eligible reports whether decision licenses agent. A healing_and_fraud
// decision licenses both agents independently; unknown decisions license none.
func Eligible(d incident.Decision, a Agent) bool {
	switch d {
	case incident.DecisionHealingAndFraud:
		return a == Healing || a == Fraud
	case incident.DecisionHealing:
		return a == Healing
	case incident.DecisionFraud:
		return a == Fraud
	}
	return false
}

// EligibleAgents lists the agents a decision licenses, healing first.
func EligibleAgents(d incident.Decision) []Agent {
	var out []Agent
	for _, a := range []Agent{Healing, Fraud} {
		if Eligible(d, a) {
			out = append(out, a)
		}
	}
	return out
}
