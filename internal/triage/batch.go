package triage

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/remedy/internal/clock"
	"github.com/linnemanlabs/remedy/internal/events"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/rowstate"
)

const (
	// DefaultBatchDelay is the pause between consecutive batch requests.
	DefaultBatchDelay = time.Second

	// maxRetainedBatches bounds the in-memory batch history.
	maxRetainedBatches = 64
)

// ErrBatchAborted marks incidents skipped because the run's context ended.
var ErrBatchAborted = errors.New("batch aborted before request")

// BatchStatus is the lifecycle state of a batch run.
type BatchStatus string

const (
	BatchRunning  BatchStatus = "running"
	BatchComplete BatchStatus = "complete"
)

// ItemResult is the outcome of one incident within a batch.
type ItemResult struct {
	Key        string            `json:"key"`
	Index      int               `json:"index"`
	OK         bool              `json:"ok"`
	Error      string            `json:"error,omitempty"`
	Decision   incident.Decision `json:"decision,omitempty"`
	Response   json.RawMessage   `json:"response,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// BatchResult tracks one batch run.
type BatchResult struct {
	ID         string       `json:"id"`
	Status     BatchStatus  `json:"status"`
	Total      int          `json:"total"`
	Failed     int          `json:"failed"`
	Items      []ItemResult `json:"items"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
}

func (b *BatchResult) clone() BatchResult {
	out := *b
	out.Items = slices.Clone(b.Items)
	return out
}

// Runner triages a whole incident set strictly one request at a time, ignoring
// cached verdicts, with a fixed delay between consecutive requests.
type Runner struct {
	caller Caller
	rows   *rowstate.Store
	events events.Publisher
	hooks  Hooks
	logger log.Logger
	delay  time.Duration

	sleep func(ctx context.Context, d time.Duration) error // for testing
	now   func() time.Time                                 // for testing

	mu    sync.RWMutex
	runs  map[string]*BatchResult
	order []string
}

// NewRunner creates a batch runner. A zero delay falls back to DefaultBatchDelay;
// pub may be nil.
func NewRunner(caller Caller, rows *rowstate.Store, delay time.Duration, pub events.Publisher, hooks Hooks, logger log.Logger) *Runner {
	if delay <= 0 {
		delay = DefaultBatchDelay
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{
		caller: caller,
		rows:   rows,
		events: pub,
		hooks:  hooks,
		logger: logger,
		delay:  delay,
		sleep:  clock.Sleep,
		now:    time.Now,
		runs:   make(map[string]*BatchResult),
	}
}

// Start registers a new batch and runs it in the background. The run is
// detached from ctx cancellation and always finishes.
func (r *Runner) Start(ctx context.Context, entries []incident.Entry) string {
	b := r.register(len(entries))
	go r.run(context.WithoutCancel(ctx), b.ID, entries)
	return b.ID
}

// Run executes a batch synchronously and returns its final result. If ctx
// ends mid-run the remaining incidents are recorded as aborted.
func (r *Runner) Run(ctx context.Context, entries []incident.Entry) BatchResult {
	b := r.register(len(entries))
	return r.run(ctx, b.ID, entries)
}

// Get returns a snapshot of a batch run.
func (r *Runner) Get(id string) (BatchResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.runs[id]
	if !ok {
		return BatchResult{}, false
	}
	return b.clone(), true
}

func (r *Runner) register(total int) *BatchResult {
	b := &BatchResult{
		ID:        ulid.Make().String(),
		Status:    BatchRunning,
		Total:     total,
		Items:     make([]ItemResult, 0, total),
		StartedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[b.ID] = b
	r.order = append(r.order, b.ID)
	r.evictLocked()
	return b
}

// evictLocked drops the oldest finished runs beyond the retention bound.
func (r *Runner) evictLocked() {
	for i := 0; len(r.order) > maxRetainedBatches && i < len(r.order); {
		id := r.order[i]
		if r.runs[id].Status == BatchRunning {
			i++
			continue
		}
		delete(r.runs, id)
		r.order = slices.Delete(r.order, i, i+1)
	}
}

func (r *Runner) record(id string, item ItemResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.runs[id]
	b.Items = append(b.Items, item)
	if !item.OK {
		b.Failed++
	}
}

func (r *Runner) finish(id string) BatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.runs[id]
	b.Status = BatchComplete
	b.FinishedAt = r.now()
	return b.clone()
}

func (r *Runner) run(ctx context.Context, id string, entries []incident.Entry) BatchResult {
	ctx, span := tracer.Start(ctx, "triage.batch", trace.WithAttributes(
		attribute.String("remedy.batch.id", id),
		attribute.Int("remedy.batch.size", len(entries)),
	))
	defer span.End()

	L := r.logger.With("batch_id", id)
	L.Info(ctx, "batch triage started", "incidents", len(entries))

	start := time.Now()
	verdicts := make(map[string]incident.Verdict, len(entries))
	failures := make(map[string]string)

	for i := range entries {
		e := &entries[i]

		if i > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				r.abort(id, entries[i:], err)
				L.Warn(ctx, "batch triage aborted", "remaining", len(entries)-i, "err", err)
				break
			}
		}

		item := ItemResult{Key: e.Key, Index: e.Index, StartedAt: r.now()}
		raw, err := r.caller.RunTriage(ctx, &e.Incident)
		item.FinishedAt = r.now()

		var v incident.Verdict
		if err == nil {
			v, err = DecodeVerdict(raw)
		}
		if err != nil {
			r.hooks.call(OutcomeFailure, item.FinishedAt.Sub(item.StartedAt))
			L.Error(ctx, err, "batch triage call failed", "key", e.Key)
			item.Error = err.Error()
			failures[e.Key] = item.Error
			delete(verdicts, e.Key)
		} else {
			outcome := OutcomeSuccess
			if v.Error != "" {
				outcome = OutcomeServiceError
			}
			r.hooks.call(outcome, item.FinishedAt.Sub(item.StartedAt))
			item.OK = true
			item.Decision = v.Decision
			item.Response = raw
			verdicts[e.Key] = v
			delete(failures, e.Key)
		}
		r.record(id, item)
	}

	r.apply(entries, verdicts, failures)

	res := r.finish(id)
	r.hooks.batch(res.Total, res.Failed, time.Since(start))
	L.Info(ctx, "batch triage complete",
		"incidents", res.Total,
		"failed", res.Failed,
		"duration", time.Since(start),
	)

	ev := events.New(events.KindBatchCompleted, "")
	ev.BatchID = id
	ev.Total = res.Total
	ev.Failed = res.Failed
	events.Emit(ctx, r.events, L, ev)
	return res
}

// abort records every remaining entry as skipped.
func (r *Runner) abort(id string, rest []incident.Entry, cause error) {
	now := r.now()
	for i := range rest {
		r.record(id, ItemResult{
			Key:        rest[i].Key,
			Index:      rest[i].Index,
			Error:      errors.Join(ErrBatchAborted, cause).Error(),
			StartedAt:  now,
			FinishedAt: now,
		})
	}
}

// apply folds the collected responses into the row store once the whole pass
// is done, expanding every row the batch touched. TriageLoading belongs to the
// single-row client and is left alone so an in-flight request still owns it.
func (r *Runner) apply(entries []incident.Entry, verdicts map[string]incident.Verdict, failures map[string]string) {
	for i := range entries {
		key := entries[i].Key
		if v, ok := verdicts[key]; ok {
			r.rows.Update(key, rowstate.Patch{
				Expanded:    rowstate.Ptr(true),
				Verdict:     &v,
				TriageError: rowstate.Ptr(v.Error),
			})
			continue
		}
		if msg, ok := failures[key]; ok {
			r.rows.Update(key, rowstate.Patch{
				Expanded:    rowstate.Ptr(true),
				TriageError: rowstate.Ptr(msg),
			})
		}
	}
}
