package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/remedy/internal/events"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/incident/filestore"
	"github.com/linnemanlabs/remedy/internal/incident/pgstore"
	"github.com/linnemanlabs/remedy/internal/notify/kafka"
	"github.com/linnemanlabs/remedy/internal/notify/slack"
	"github.com/linnemanlabs/remedy/internal/postgres"
	"github.com/linnemanlabs/remedy/internal/remediation"
	"github.com/linnemanlabs/remedy/internal/rowstate"
	"github.com/linnemanlabs/remedy/internal/triage"
	"github.com/linnemanlabs/remedy/internal/upstream"
)

// sinkDrainTimeout bounds how long a command waits for queued events on exit.
const sinkDrainTimeout = 15 * time.Second

// workflow is the in-process set of workflow components one command uses.
type workflow struct {
	logger   log.Logger
	registry incident.Registry
	rows     *rowstate.Store
	triage   *triage.Client
	batches  *triage.Runner
	agents   *remediation.Orchestrator
	closers  []func()
}

func (w *workflow) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

// newWorkflow wires the registry, upstream client, event sinks and workflow
// components from the root flags.
func newWorkflow(ctx context.Context, batchDelay, progressStep time.Duration) (*workflow, error) {
	lg, err := log.New(logCfg.ToOptions(appName))
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	w := &workflow{
		logger: lg.With("component", "cli"),
		rows:   rowstate.New(),
	}
	w.closers = append(w.closers, func() { _ = lg.Sync() })

	w.registry, err = w.openRegistry(ctx)
	if err != nil {
		w.Close()
		return nil, err
	}

	var sinks events.Multi
	if rootFlags.slackWebhook != "" {
		sinks = append(sinks, slack.New(rootFlags.slackWebhook))
	}
	if len(rootFlags.kafkaBrokers) > 0 {
		kp := kafka.New(rootFlags.kafkaBrokers, rootFlags.kafkaTopic)
		sinks = append(sinks, kp)
		w.closers = append(w.closers, func() { _ = kp.Close() })
	}
	var pub events.Publisher
	if len(sinks) > 0 {
		q := events.NewAsync(sinks, events.DefaultQueueSize, w.logger)
		// runs before the kafka closer above
		w.closers = append(w.closers, func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkDrainTimeout)
			defer cancel()
			if err := q.Close(ctx); err != nil {
				w.logger.Warn(ctx, "event queue not drained", "err", err)
			}
		})
		pub = q
	}

	services := upstream.New(rootFlags.triageURL, rootFlags.agentURL, rootFlags.timeout)
	w.triage = triage.NewClient(services, w.rows, pub, triage.Hooks{}, w.logger)
	w.batches = triage.NewRunner(services, w.rows, batchDelay, pub, triage.Hooks{}, w.logger)
	w.agents = remediation.NewOrchestrator(services, w.rows, progressStep, pub, remediation.Hooks{}, w.logger)
	return w, nil
}

func (w *workflow) openRegistry(ctx context.Context) (incident.Registry, error) {
	switch {
	case rootFlags.file != "":
		store, err := filestore.Load(rootFlags.file)
		if err != nil {
			return nil, err
		}
		return store, nil
	case rootFlags.databaseURL != "":
		pool, err := postgres.NewPool(ctx, rootFlags.databaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		w.closers = append(w.closers, pool.Close)
		store, err := pgstore.New(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("pgstore init: %w", err)
		}
		return store, nil
	default:
		return nil, errNoSource
	}
}

// lookup resolves a row key to its incident.
func (w *workflow) lookup(ctx context.Context, key string) (incident.Entry, error) {
	e, ok, err := w.registry.Get(ctx, key)
	if err != nil {
		return incident.Entry{}, fmt.Errorf("get incident %q: %w", key, err)
	}
	if !ok {
		return incident.Entry{}, fmt.Errorf("incident %q not found", key)
	}
	return e, nil
}

type rowView struct {
	Key      string            `json:"key"`
	Incident incident.Incident `json:"incident"`
	State    rowstate.State    `json:"state"`
}

func (w *workflow) view(e incident.Entry) rowView {
	return rowView{Key: e.Key, Incident: e.Incident, State: w.rows.Get(e.Key)}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
