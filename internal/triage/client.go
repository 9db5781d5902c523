package triage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/remedy/internal/events"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/rowstate"
)

var tracer = otel.Tracer("github.com/linnemanlabs/remedy/internal/triage")

// Caller performs one request against the triage service.
type Caller interface {
	RunTriage(ctx context.Context, inc *incident.Incident) (json.RawMessage, error)
}

// Client runs triage for a single row, caching the verdict in the row store.
type Client struct {
	caller Caller
	rows   *rowstate.Store
	events events.Publisher
	hooks  Hooks
	logger log.Logger
}

// NewClient creates a triage client. pub may be nil.
func NewClient(caller Caller, rows *rowstate.Store, pub events.Publisher, hooks Hooks, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		caller: caller,
		rows:   rows,
		events: pub,
		hooks:  hooks,
		logger: logger,
	}
}

// Run triages the entry's incident. A row that already holds a verdict only
// has its expanded flag toggled; the service is never asked twice. A row
// whose request is still in flight is expanded without a second request, even
// when a batch has already stored a verdict for it. Failures are recorded on
// the row, never returned.
func (c *Client) Run(ctx context.Context, e incident.Entry) rowstate.State {
	var fetch, cached bool
	st := c.rows.Modify(e.Key, func(s *rowstate.State) {
		switch {
		case s.TriageLoading:
			s.Expanded = true
		case s.Verdict != nil:
			s.Expanded = !s.Expanded
			cached = true
		default:
			s.Expanded = true
			s.TriageLoading = true
			s.TriageError = ""
			fetch = true
		}
	})
	if !fetch {
		if cached {
			c.hooks.call(OutcomeCached, 0)
		}
		return st
	}

	ctx, span := tracer.Start(ctx, "triage.run", trace.WithAttributes(
		attribute.String("remedy.incident.key", e.Key),
	))
	defer span.End()

	L := c.logger.With("key", e.Key)
	start := time.Now()

	v, err := fetchVerdict(ctx, c.caller, &e.Incident)
	if err != nil {
		c.hooks.call(OutcomeFailure, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "triage failed")

		st = c.rows.Update(e.Key, rowstate.Patch{
			TriageLoading: rowstate.Ptr(false),
			TriageError:   rowstate.Ptr(err.Error()),
		})
		ev := events.New(events.KindTriageCompleted, e.Key)
		ev.Error = err.Error()
		events.Emit(ctx, c.events, L, ev)
		return st
	}

	outcome := OutcomeSuccess
	if v.Error != "" {
		outcome = OutcomeServiceError
	}
	c.hooks.call(outcome, time.Since(start))
	span.SetAttributes(attribute.String("remedy.triage.decision", string(v.Decision)))

	st = c.rows.Update(e.Key, rowstate.Patch{
		Verdict:       &v,
		TriageLoading: rowstate.Ptr(false),
		TriageError:   rowstate.Ptr(v.Error),
	})

	L.Info(ctx, "triage complete",
		"decision", v.Decision,
		"service_error", v.Error,
		"duration", time.Since(start),
	)
	events.Emit(ctx, c.events, L, verdictEvent(e.Key, &v))
	return st
}

func fetchVerdict(ctx context.Context, caller Caller, inc *incident.Incident) (incident.Verdict, error) {
	raw, err := caller.RunTriage(ctx, inc)
	if err != nil {
		return incident.Verdict{}, err
	}
	return DecodeVerdict(raw)
}

func verdictEvent(key string, v *incident.Verdict) events.Event {
	ev := events.New(events.KindTriageCompleted, key)
	ev.Decision = v.Decision
	ev.Summary = v.Reason
	ev.Error = v.Error
	return ev
}
