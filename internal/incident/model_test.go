package incident

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestKey_FallsBackToPosition(t *testing.T) {
	t.Parallel()

	incs := []Incident{
		{TransactionID: "tx-1"},
		{},
		{TransactionID: "tx-3"},
		{},
	}

	var first []string
	for i := range incs {
		first = append(first, Key(&incs[i], i))
	}
	want := []string{"tx-1", "1", "tx-3", "3"}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	// repeated lookups within one pass are stable
	for i := range incs {
		if got := Key(&incs[i], i); got != first[i] {
			t.Errorf("Key(%d) = %q on second lookup, want %q", i, got, first[i])
		}
	}
}

func TestEntries(t *testing.T) {
	t.Parallel()

	entries := Entries([]Incident{{TransactionID: "a"}, {Status: "failed"}})
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[1].Key != "1" || entries[1].Index != 1 {
		t.Errorf("entries[1] = %+v, want key 1 index 1", entries[1])
	}

	e, ok := Find(entries, "a")
	if !ok || e.Index != 0 {
		t.Errorf("Find(a) = %+v, %v", e, ok)
	}
	if _, ok := Find(entries, "missing"); ok {
		t.Error("Find(missing) ok = true, want false")
	}
}

func TestAlertSignal(t *testing.T) {
	t.Parallel()

	inc := Incident{Metadata: map[string]any{"error_detection_signal": "velocity_spike"}}
	if got := inc.AlertSignal(); got != "velocity_spike" {
		t.Errorf("AlertSignal() = %q, want velocity_spike", got)
	}
	var empty Incident
	if got := empty.AlertSignal(); got != "" {
		t.Errorf("AlertSignal() on empty = %q, want empty", got)
	}
}

func TestDecisionKnown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    Decision
		want bool
	}{
		{DecisionHealing, true},
		{DecisionFraud, true},
		{DecisionHealingAndFraud, true},
		{DecisionNone, false},
		{"escalate", false},
	}
	for _, tt := range tests {
		if got := tt.d.Known(); got != tt.want {
			t.Errorf("Decision(%q).Known() = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestOutcomeAccessors(t *testing.T) {
	t.Parallel()

	o := Outcome{
		"recommended_action": "refund",
		"resolution":         "Recommended action: refund",
		"updated_status":     "PENDING_REVIEW",
		"status":             "ok",
		"healing_needed":     true,
	}
	if o.RecommendedAction() != "refund" || o.Resolution() == "" || o.UpdatedStatus() != "PENDING_REVIEW" || o.Status() != "ok" {
		t.Errorf("unexpected accessor values for %v", o)
	}

	c := o.Clone()
	c["status"] = "changed"
	if o.Status() != "ok" {
		t.Error("Clone shares storage with original")
	}
	if Outcome(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
