package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/remedy/internal/clock"
	"github.com/linnemanlabs/remedy/internal/events"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/rowstate"
)

var tracer = otel.Tracer("github.com/linnemanlabs/remedy/internal/remediation")

// DefaultProgressStep is the pause after each progress message.
const DefaultProgressStep = 1200 * time.Millisecond

// Caller performs one request against a remediation agent service.
type Caller interface {
	RunAgent(ctx context.Context, agent string, inc *incident.Incident) (json.RawMessage, error)
}

// Orchestrator runs remediation agents against rows of the state store.
type Orchestrator struct {
	caller Caller
	rows   *rowstate.Store
	events events.Publisher
	hooks  Hooks
	logger log.Logger
	step   time.Duration

	sleep func(ctx context.Context, d time.Duration) error // for testing
}

// NewOrchestrator creates an orchestrator. A zero step falls back to
// DefaultProgressStep; pub may be nil.
func NewOrchestrator(caller Caller, rows *rowstate.Store, step time.Duration, pub events.Publisher, hooks Hooks, logger log.Logger) *Orchestrator {
	if step <= 0 {
		step = DefaultProgressStep
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		caller: caller,
		rows:   rows,
		events: pub,
		hooks:  hooks,
		logger: logger,
		step:   step,
		sleep:  clock.Sleep,
	}
}

// run is an accepted agent run.
type run struct {
	entry    incident.Entry
	agent    Agent
	verdict  incident.Verdict
	messages []string
}

// Start validates the request against the row's verdict and, if accepted,
// runs the agent in the background. The run is detached from ctx
// cancellation and always finishes. Rejections leave the row untouched.
func (o *Orchestrator) Start(ctx context.Context, e incident.Entry, agent Agent) (rowstate.State, error) {
	r, st, err := o.begin(e, agent)
	if err != nil {
		return st, err
	}
	go o.execute(context.WithoutCancel(ctx), r)
	return st, nil
}

// Run is the synchronous form of Start. It returns the row state after the
// agent call resolves; a failed call is recorded on the row, not returned.
func (o *Orchestrator) Run(ctx context.Context, e incident.Entry, agent Agent) (rowstate.State, error) {
	r, st, err := o.begin(e, agent)
	if err != nil {
		return st, err
	}
	return o.execute(ctx, r), nil
}

// begin atomically checks eligibility and claims the row's agent slot. A
// rejected request neither creates the row nor stamps it.
func (o *Orchestrator) begin(e incident.Entry, agent Agent) (*run, rowstate.State, error) {
	if _, err := ParseAgent(string(agent)); err != nil {
		o.hooks.reject(agent, "unknown_agent")
		return nil, o.rows.Get(e.Key), err
	}

	var (
		r   *run
		err error
	)
	st := o.rows.ModifyIf(e.Key, func(s *rowstate.State) bool {
		r, err = nil, nil
		switch {
		case s.AgentLoading:
			err = ErrAgentBusy
		case s.Verdict == nil:
			err = ErrNoVerdict
		case !Eligible(s.Verdict.Decision, agent):
			err = ErrNotEligible
		default:
			r = &run{
				entry:    e,
				agent:    agent,
				verdict:  *s.Verdict,
				messages: ProgressMessages(agent, s.Verdict.SuggestedResolution),
			}
			s.AgentType = string(agent)
			s.AgentError = ""
			s.AgentProgressMessages = r.messages
			s.AgentProgressStep = 0
			s.AgentLoading = true
		}
		return err == nil
	})
	if err != nil {
		o.hooks.reject(agent, rejectReason(err))
		return nil, st, err
	}
	o.hooks.start(agent)
	return r, st, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrAgentBusy):
		return "busy"
	case errors.Is(err, ErrNoVerdict):
		return "no_verdict"
	default:
		return "not_eligible"
	}
}

func (o *Orchestrator) execute(ctx context.Context, r *run) rowstate.State {
	key := r.entry.Key
	ctx, span := tracer.Start(ctx, "remediation.run", trace.WithAttributes(
		attribute.String("remedy.incident.key", key),
		attribute.String("remedy.agent", string(r.agent)),
		attribute.String("remedy.triage.decision", string(r.verdict.Decision)),
	))
	defer span.End()

	L := o.logger.With("key", key, "agent", r.agent)

	// progress phase: strictly ordered, no network
	for i := range r.messages {
		o.rows.Update(key, rowstate.Patch{AgentProgressStep: rowstate.Ptr(i)})
		if err := o.sleep(ctx, o.step); err != nil {
			return o.fail(ctx, span, L, r, err, 0)
		}
	}

	// execution phase
	start := time.Now()
	raw, err := o.caller.RunAgent(ctx, string(r.agent), &r.entry.Incident)
	var outcome incident.Outcome
	if err == nil {
		outcome, err = DecodeOutcome(raw)
	}
	if err != nil {
		return o.fail(ctx, span, L, r, err, time.Since(start))
	}
	elapsed := time.Since(start)

	st := o.rows.Update(key, rowstate.Patch{
		AgentOutcome:      outcome,
		AgentOutcomeType:  rowstate.Ptr(string(r.agent)),
		AgentLoading:      rowstate.Ptr(false),
		AgentProgressStep: rowstate.Ptr(len(r.messages)),
	})
	o.hooks.run(r.agent, "success", elapsed)

	L.Info(ctx, "agent run complete",
		"updated_status", outcome.UpdatedStatus(),
		"status", outcome.Status(),
		"duration", elapsed,
	)

	ev := events.New(events.KindAgentCompleted, key)
	ev.Agent = string(r.agent)
	ev.Decision = r.verdict.Decision
	ev.Status = firstNonEmpty(outcome.UpdatedStatus(), outcome.Status())
	ev.Summary = firstNonEmpty(outcome.RecommendedAction(), outcome.Resolution())
	events.Emit(ctx, o.events, L, ev)
	return st
}

// fail records err on the row and leaves any earlier outcome in place.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, L log.Logger, r *run, err error, d time.Duration) rowstate.State {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	L.Error(ctx, err, "agent run failed")

	st := o.rows.Update(r.entry.Key, rowstate.Patch{
		AgentLoading: rowstate.Ptr(false),
		AgentError:   rowstate.Ptr(err.Error()),
	})
	o.hooks.run(r.agent, "failure", d)

	ev := events.New(events.KindAgentCompleted, r.entry.Key)
	ev.Agent = string(r.agent)
	ev.Decision = r.verdict.Decision
	ev.Error = err.Error()
	events.Emit(ctx, o.events, L, ev)
	return st
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
