// Remedy is the incident triage and remediation dashboard backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/remedy/internal/dashapi"
)

const appName = "remedy"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// stopFn is one component's shutdown step.
type stopFn struct {
	name string
	fn   func(context.Context) error
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	c, err := parseConfig(flag.CommandLine, os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	if c.showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	lg, err := log.New(c.log.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", c.app.APIPort,
		"admin_port", c.ops.Port,
		"triage_service_url", c.app.TriageServiceURL,
		"agent_service_url", c.app.AgentServiceURL,
		"service_timeout_seconds", c.app.ServiceTimeoutSeconds,
		"progress_step", c.app.ProgressStep,
		"batch_delay", c.app.BatchDelay,
		"enable_pprof", c.ops.EnablePprof,
		"enable_pyroscope", c.prof.EnablePyroscope,
		"enable_tracing", c.trace.EnableTracing,
		"otlp_endpoint", c.trace.OTLPEndpoint,
		"trusted_proxy_hops", c.httpmw.TrustedProxyHops,
	)

	tel := startTelemetry(ctx, c, build{version: vi.Version, commit: vi.Commit, buildID: vi.BuildId}, L)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(tel.profiling)
	observeQueries(m.Registry())

	registry, closeRegistry, err := openRegistry(ctx, &c.app, L)
	if err != nil {
		return err
	}
	defer closeRegistry()

	out := newSinks(ctx, &c.app, L)
	api := dashapi.New(L, newWorkflow(&c.app, registry, out.publisher, m.Registry(), L))

	// readiness fails once shutdown starts so load balancers drain us first
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := c.ops.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// ops listener is for internal monitoring only; opshttp rejects public and forwarded clients
	stopOps, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	h := newHandler(L, api.RegisterRoutes, probes{
		healthy: health.HealthzHandler(liveness),
		ready:   health.ReadyzHandler(readiness),
	}, m, c.httpmw.TrustedProxyHops)

	httpOpts, err := c.http.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	stopDash, err := httpserver.Start(ctx, fmt.Sprintf(":%d", c.app.APIPort), h, L, httpOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start dashboard http listener")
		return err
	}

	if err := notifySystemd(); err != nil {
		// systemd kills us on its own timeout if this mattered
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Set("draining")
	drain(bg, L, time.Duration(c.app.DrainSeconds)*time.Second)

	// http first so no new workflow starts, then the sinks they publish to
	stops := []stopFn{
		{"dashboard http server", stopDash},
		{"ops http server", stopOps},
		{"event sinks", out.Close},
	}
	if tel.stopOtel != nil {
		stops = append(stops, stopFn{"otel", tel.stopOtel})
	}
	shutdown(bg, L, time.Duration(c.app.ShutdownBudgetSeconds)*time.Second, stops)

	if tel.stopProf != nil {
		tel.stopProf()
	}
	L.Info(bg, "shutdown complete")
	return nil
}

// drain waits out the drain period so in-flight requests and background
// agent runs can finish. A second signal cuts it short.
func drain(ctx context.Context, L log.Logger, d time.Duration) {
	L.Info(ctx, "sleeping for drain period", "drain", d)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case <-time.After(d):
		L.Info(ctx, "drain period complete")
	case <-forceCh:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// shutdown runs each stop in order, giving each an equal slice of budget.
func shutdown(ctx context.Context, L log.Logger, budget time.Duration, stops []stopFn) {
	if len(stops) == 0 {
		return
	}
	perComponent := budget / time.Duration(len(stops))
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for _, s := range stops {
		cctx, ccancel := context.WithTimeout(ctx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(ctx, err, s.name+" shutdown")
		}
		ccancel()
	}
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set when started by systemd with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd, net has no context dial for unixgram
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
