package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// probes are the health endpoints mounted on the dashboard listener.
type probes struct {
	healthy http.HandlerFunc
	ready   http.HandlerFunc
}

// metricsMiddleware is the part of the metrics registry the handler needs.
type metricsMiddleware interface {
	Middleware(http.Handler) http.Handler
}

// newHandler builds the dashboard listener: chi routes inside, then the
// middleware chain wrapped from the innermost layer outwards.
func newHandler(L log.Logger, routes func(chi.Router), p probes, m metricsMiddleware, trustedHops int) http.Handler {
	r := chi.NewRouter()

	// responses are JSON only
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	// no endpoint reads a body yet
	r.Use(httpmw.MaxBody(1024 * 16))

	r.Get("/-/healthy", p.healthy)
	r.Get("/-/ready", p.ready)
	routes(r)

	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: trustedHops})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	// outermost so every response, including recovered panics, carries them
	h = httpmw.SecurityHeaders(h)
	return h
}
