package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

func TestNotifySystemd_Errors(t *testing.T) {
	tests := []struct {
		name   string
		socket func(t *testing.T) string
		want   string
	}{
		{
			name:   "no socket",
			socket: func(*testing.T) string { return "" },
			want:   "NOTIFY_SOCKET not set",
		},
		{
			name:   "missing socket file",
			socket: func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone.sock") },
			want:   "dial failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NOTIFY_SOCKET", tt.socket(t))

			err := notifySystemd()
			if err == nil {
				t.Fatal("notifySystemd() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want READY=1", got)
	}
}

func parse(t *testing.T, args ...string) (*config, error) {
	t.Helper()
	fs := flag.NewFlagSet("remedy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return parseConfig(fs, args, io.Discard)
}

func TestParseConfig_Valid(t *testing.T) {
	c, err := parse(t, "-triage-service-url", "http://triage:8000", "-incidents-file", "incidents.json")
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if c.app.TriageServiceURL != "http://triage:8000" || c.app.IncidentsFile != "incidents.json" {
		t.Errorf("app config = %+v", c.app)
	}
	if c.app.APIPort != 8080 {
		t.Errorf("APIPort = %d, want default 8080", c.app.APIPort)
	}
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	_, err := parse(t, "-incidents-file", "incidents.json", "-http-port", "0")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"configuration validation failed", "TRIAGE_SERVICE_URL", "HTTP_PORT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not contain %q", err, want)
		}
	}
}

func TestParseConfig_PortsMustDiffer(t *testing.T) {
	base := []string{"-triage-service-url", "http://t", "-incidents-file", "f.json"}
	c, err := parse(t, base...)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}

	_, err = parse(t, append(base, "-http-port", strconv.Itoa(c.ops.Port))...)
	if err == nil || !strings.Contains(err.Error(), "ports must differ") {
		t.Fatalf("err = %v, want port collision", err)
	}
}

func TestParseConfig_VersionSkipsValidation(t *testing.T) {
	c, err := parse(t, "-V")
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if !c.showVersion {
		t.Error("showVersion = false")
	}
}

func TestParseConfig_EnvDoesNotOverrideFlags(t *testing.T) {
	t.Setenv("REMEDY_TRIAGE_SERVICE_URL", "http://from-env:8000")
	t.Setenv("REMEDY_INCIDENTS_FILE", "env.json")

	c, err := parse(t, "-incidents-file", "flag.json")
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if c.app.TriageServiceURL != "http://from-env:8000" {
		t.Errorf("TriageServiceURL = %q, want env value", c.app.TriageServiceURL)
	}
	if c.app.IncidentsFile != "flag.json" {
		t.Errorf("IncidentsFile = %q, want flag value", c.app.IncidentsFile)
	}
}

func TestShutdown_RunsAllInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	step := func(name string, err error) stopFn {
		return stopFn{name, func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("%s: no deadline", name)
			}
			order = append(order, name)
			return err
		}}
	}

	shutdown(context.Background(), log.Nop(), time.Second, []stopFn{
		step("http", nil),
		step("ops", errors.New("already closed")),
		step("sinks", nil),
	})

	if got := strings.Join(order, ","); got != "http,ops,sinks" {
		t.Errorf("order = %s, want http,ops,sinks", got)
	}
}
