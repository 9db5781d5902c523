package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	rc "github.com/linnemanlabs/remedy/internal/cfg"
	"github.com/linnemanlabs/remedy/internal/dashapi"
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

// observeQueries feeds per-query durations from the pgx tracer into reg.
func observeQueries(reg prometheus.Registerer) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remedy_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route", "outcome"})
	reg.MustRegister(hist)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, route, outcome string, dur time.Duration) {
			hist.WithLabelValues(operation, route, outcome).Observe(dur.Seconds())
		},
	))
}

// openRegistry picks the incident source. A database URL wins over the file.
// The returned close func is never nil.
func openRegistry(ctx context.Context, c *rc.Config, L log.Logger) (incident.Registry, func(), error) {
	if c.DatabaseURL == "" {
		store, err := filestore.Load(c.IncidentsFile)
		if err != nil {
			return nil, func() {}, fmt.Errorf("load incidents: %w", err)
		}
		L.Info(ctx, "incident registry ready", "source", "file", "path", c.IncidentsFile, "incidents", len(store.Incidents()))
		return store, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, c.DatabaseURL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, func() {}, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "incident registry ready", "source", "postgres")
	return store, pool.Close, nil
}

// sinks holds the configured event publishers. Workflow components publish
// through a queue so a slow sink never holds up a request.
type sinks struct {
	publisher events.Publisher // nil when no sink is configured
	queue     *events.Async
	kafka     *kafka.Publisher
}

func newSinks(ctx context.Context, c *rc.Config, L log.Logger) sinks {
	var (
		s     sinks
		multi events.Multi
	)
	if c.SlackWebhookURL != "" {
		multi = append(multi, slack.New(c.SlackWebhookURL))
		L.Info(ctx, "event sink enabled", "type", "slack")
	}
	if brokers := c.Brokers(); len(brokers) > 0 {
		s.kafka = kafka.New(brokers, c.KafkaTopic)
		multi = append(multi, s.kafka)
		L.Info(ctx, "event sink enabled", "type", "kafka", "brokers", brokers, "topic", c.KafkaTopic)
	}
	if len(multi) > 0 {
		s.queue = events.NewAsync(multi, events.DefaultQueueSize, L.With("component", "events"))
		s.publisher = s.queue
	}
	return s
}

// Close drains queued events, then flushes publishers that buffer.
func (s sinks) Close(ctx context.Context) error {
	var errs []error
	if s.queue != nil {
		if err := s.queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain event queue: %w", err))
		}
	}
	if s.kafka != nil {
		errs = append(errs, s.kafka.Close())
	}
	return errors.Join(errs...)
}

// newWorkflow builds the workflow components around one row state store.
func newWorkflow(c *rc.Config, registry incident.Registry, pub events.Publisher, reg prometheus.Registerer, L log.Logger) dashapi.Services {
	rows := rowstate.New()
	services := upstream.New(c.TriageServiceURL, c.AgentServiceURL, c.ServiceTimeout())

	triageHooks := triage.NewMetrics(reg).Hooks()
	triageLog := L.With("component", "triage")

	return dashapi.Services{
		Registry: registry,
		Rows:     rows,
		Triage:   triage.NewClient(services, rows, pub, triageHooks, triageLog),
		Batches:  triage.NewRunner(services, rows, c.BatchDelay, pub, triageHooks, triageLog),
		Agents: remediation.NewOrchestrator(services, rows, c.ProgressStep, pub,
			remediation.NewMetrics(reg).Hooks(), L.With("component", "remediation")),
	}
}
