package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNew(t *testing.T) {
	t.Parallel()

	ev := New(KindTriageCompleted, "tx-1")
	if ev.ID == "" {
		t.Error("expected ID to be set")
	}
	if ev.Time.IsZero() {
		t.Error("expected Time to be set")
	}
	if ev.Kind != KindTriageCompleted || ev.Key != "tx-1" {
		t.Errorf("event = %+v", ev)
	}
	if other := New(KindTriageCompleted, "tx-1"); other.ID == ev.ID {
		t.Error("IDs should be unique")
	}
}

func TestMulti_FansOutToAll(t *testing.T) {
	t.Parallel()

	a, b, c := &recorder{}, &recorder{err: errors.New("kafka down")}, &recorder{}
	m := Multi{a, b, c}

	err := m.Publish(context.Background(), New(KindAgentCompleted, "k"))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, b.err) {
		t.Errorf("err = %v, want wrapping %v", err, b.err)
	}
	for i, r := range []*recorder{a, b, c} {
		if r.count() != 1 {
			t.Errorf("publisher %d got %d events, want 1", i, r.count())
		}
	}
}

func TestMulti_Empty(t *testing.T) {
	t.Parallel()

	if err := (Multi{}).Publish(context.Background(), New(KindBatchCompleted, "")); err != nil {
		t.Fatalf("empty Multi: %v", err)
	}
}

func TestEmit_SwallowsErrors(t *testing.T) {
	t.Parallel()

	r := &recorder{err: errors.New("boom")}
	Emit(context.Background(), r, log.Nop(), New(KindTriageCompleted, "k"))
	if r.count() != 1 {
		t.Errorf("count = %d, want 1", r.count())
	}

	// nil publisher is a no-op
	Emit(context.Background(), nil, log.Nop(), New(KindTriageCompleted, "k"))
}

func TestIsFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"ok triage", Event{Kind: KindTriageCompleted}, false},
		{"failed agent", Event{Kind: KindAgentCompleted, Error: "502"}, true},
		{"batch with failures", Event{Kind: KindBatchCompleted, Total: 3, Failed: 1}, true},
		{"clean batch", Event{Kind: KindBatchCompleted, Total: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.ev.IsFailure(); got != tt.want {
				t.Errorf("IsFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}
