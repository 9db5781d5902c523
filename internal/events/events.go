// Package events carries workflow notifications (triage verdicts, agent
// outcomes, batch completions) to external sinks. Publishing is best-effort:
// a sink failure is logged by the caller and never touches row state.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/remedy/internal/incident"
)

// Kind names a workflow event.
type Kind string

const (
	KindTriageCompleted Kind = "triage.completed"
	KindAgentCompleted  Kind = "agent.completed"
	KindBatchCompleted  Kind = "batch.completed"
)

// Event is one workflow notification.
type Event struct {
	ID       string            `json:"id"`
	Kind     Kind              `json:"kind"`
	Key      string            `json:"key,omitempty"`
	Time     time.Time         `json:"time"`
	Agent    string            `json:"agent,omitempty"`
	Decision incident.Decision `json:"decision,omitempty"`
	Status   string            `json:"status,omitempty"`
	Summary  string            `json:"summary,omitempty"`
	Error    string            `json:"error,omitempty"`
	BatchID  string            `json:"batch_id,omitempty"`
	Total    int               `json:"total,omitempty"`
	Failed   int               `json:"failed,omitempty"`
}

// New returns an event of the given kind for the row key, stamped with a fresh ID.
func New(kind Kind, key string) Event {
	return Event{
		ID:   ulid.Make().String(),
		Kind: kind,
		Key:  key,
		Time: time.Now().UTC(),
	}
}

// IsFailure reports whether the event describes a failed workflow step.
func (e *Event) IsFailure() bool {
	return e.Error != "" || (e.Kind == KindBatchCompleted && e.Failed > 0)
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi fans an event out to every publisher concurrently. All publishers are
// attempted; their errors are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, p := range m {
		g.Go(func() error {
			if err := p.Publish(ctx, ev); err != nil {
				errs[i] = fmt.Errorf("publisher %d: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

type nop struct{}

func (nop) Publish(context.Context, Event) error { return nil }

// Nop returns a Publisher that drops every event.
func Nop() Publisher { return nop{} }

// Emit publishes ev and logs any failure. A nil publisher is a no-op.
func Emit(ctx context.Context, p Publisher, logger log.Logger, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Warn(ctx, "event publish failed",
			"kind", ev.Kind,
			"key", ev.Key,
			"err", err,
		)
	}
}
