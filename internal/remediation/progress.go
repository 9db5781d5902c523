package remediation

import "fmt"

const noSuggestion = "no suggested resolution provided"

// ProgressMessages returns the four progress messages shown while an agent
// runs, in order. The last one always announces the hand-off to human review.
func ProgressMessages(a Agent, suggestedResolution string) []string {
	name := a.DisplayName()
	if suggestedResolution == "" {
		suggestedResolution = noSuggestion
	}
	return []string{
		fmt.Sprintf("%s: reviewing incident details", name),
		fmt.Sprintf("%s: evaluating suggested resolution: %s", name, suggestedResolution),
		fmt.Sprintf("%s: executing remediation steps", name),
		fmt.Sprintf("%s: sending for human review", name),
	}
}
