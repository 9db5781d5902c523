package main

import (
	"context"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"go.opentelemetry.io/otel"
)

// build identifies the running binary in profiles and traces.
type build struct {
	version string
	commit  string
	buildID string
}

// telemetry is what startTelemetry brought up. Stop funcs are nil when the
// matching backend did not start.
type telemetry struct {
	stopProf  func()
	stopOtel  func(context.Context) error
	profiling bool
}

// startTelemetry starts pyroscope first so the whole process lifetime is
// profiled, then otel tracing. Failures are logged and the server runs
// without the backend.
func startTelemetry(ctx context.Context, c *config, b build, L log.Logger) telemetry {
	var t telemetry

	profOpts := c.prof.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   b.version,
		"commit":    b.commit,
		"build_id":  b.buildID,
		"source":    "lmlabs-go-agent",
	}
	stopProf, err := prof.Start(ctx, profOpts)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", c.prof.PyroServer)
	}
	t.stopProf = stopProf
	t.profiling = err == nil && c.prof.EnablePyroscope

	traceOpts := c.trace.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	t.stopOtel, err = otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	// tag spans with profile ids so a slow triage or agent run opens as a flame graph
	if t.profiling {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}
	return t
}
