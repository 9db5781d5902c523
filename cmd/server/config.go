package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"

	rc "github.com/linnemanlabs/remedy/internal/cfg"
)

// envPrefix namespaces environment overrides, e.g. REMEDY_TRIAGE_SERVICE_URL.
const envPrefix = "REMEDY_"

// config is every package's flag-backed settings, parsed together.
type config struct {
	app    rc.Config
	http   httpserver.Config
	httpmw httpmw.Config
	log    log.Config
	ops    opshttp.Config
	prof   prof.Config
	trace  otelx.Config

	showVersion bool
}

// parseConfig registers all flags on fs, parses args, fills unset flags from
// the environment and validates the result. Env values never override flags
// given on the command line.
func parseConfig(fs *flag.FlagSet, args []string, stderr io.Writer) (*config, error) {
	c := &config{}
	c.app.RegisterFlags(fs)
	c.http.RegisterFlags(fs)
	c.httpmw.RegisterFlags(fs)
	c.log.RegisterFlags(fs)
	c.ops.RegisterFlags(fs)
	c.prof.RegisterFlags(fs)
	c.trace.RegisterFlags(fs)
	fs.BoolVar(&c.showVersion, "V", false, "Print version+build information and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if c.showVersion {
		return c, nil
	}

	cfg.FillFromEnv(fs, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
	})

	if err := errors.Join(
		c.app.Validate(),
		c.http.Validate(),
		c.httpmw.Validate(),
		c.log.Validate(),
		c.ops.Validate(),
		c.prof.Validate(),
		c.trace.Validate(),
	); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// the two listeners cannot share a port
	if c.app.APIPort == c.ops.Port {
		return nil, fmt.Errorf("http and admin ports must differ (both %d)", c.app.APIPort)
	}
	return c, nil
}
