package dashapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/incident/filestore"
	"github.com/linnemanlabs/remedy/internal/remediation"
	"github.com/linnemanlabs/remedy/internal/rowstate"
	"github.com/linnemanlabs/remedy/internal/triage"
)

// fakeUpstream answers both triage and agent calls.
type fakeUpstream struct {
	mu          sync.Mutex
	verdicts    map[string]string
	triageCalls int
	agentCalls  []string
}

func (f *fakeUpstream) RunTriage(_ context.Context, inc *incident.Incident) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triageCalls++
	if v, ok := f.verdicts[inc.TransactionID]; ok {
		return json.RawMessage(v), nil
	}
	return nil, errors.New("/run-triage returned 500: no verdict configured")
}

func (f *fakeUpstream) RunAgent(_ context.Context, agent string, _ *incident.Incident) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentCalls = append(f.agentCalls, agent)
	return json.RawMessage(`{"result":{"updated_status":"resolved"},"status":"ok"}`), nil
}

type testEnv struct {
	router   chi.Router
	rows     *rowstate.Store
	upstream *fakeUpstream
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	up := &fakeUpstream{verdicts: map[string]string{
		"tx-heal":  `{"decision":"healing","reason":"switch timeout","suggested_resolution":"retry"}`,
		"tx-both":  `{"reason":"needs healing and fraud review"}`,
		"tx-none":  `{"decision":"escalate"}`,
		"tx-fraud": `{"decision":"fraud"}`,
	}}
	reg := filestore.New([]incident.Incident{
		{TransactionID: "tx-heal", Status: "FAILED"},
		{TransactionID: "tx-both", Status: "FLAGGED"},
		{TransactionID: "tx-none"},
		{TransactionID: "tx-fraud"},
		{Status: "ORPHAN"},
	})
	rows := rowstate.New()

	api := New(nil, Services{
		Registry: reg,
		Rows:     rows,
		Triage:   triage.NewClient(up, rows, nil, triage.Hooks{}, log.Nop()),
		Agents:   remediation.NewOrchestrator(up, rows, time.Millisecond, nil, remediation.Hooks{}, log.Nop()),
		Batches:  triage.NewRunner(up, rows, time.Millisecond, nil, triage.Hooks{}, log.Nop()),
	})
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return &testEnv{router: r, rows: rows, upstream: up}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// New

func TestNew_MissingDependencyPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with empty Services did not panic")
		}
	}()
	New(nil, Services{})
}

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if env.router == nil {
		t.Fatal("router not built")
	}
}

// Incidents

func TestListIncidents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.rows.Update("tx-fraud", rowstate.Patch{
		Expanded: rowstate.Ptr(true),
		Verdict:  &incident.Verdict{Decision: incident.DecisionFraud},
	})

	rec := env.do(t, http.MethodGet, "/api/v1/incidents")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}

	body := decode[struct {
		Incidents []incidentView `json:"incidents"`
	}](t, rec)
	if len(body.Incidents) != 5 {
		t.Fatalf("incidents = %d, want 5", len(body.Incidents))
	}
	if body.Incidents[4].Key != "4" {
		t.Errorf("positional key = %q, want 4", body.Incidents[4].Key)
	}
	if body.Incidents[0].State.Expanded {
		t.Error("untouched row should not be expanded")
	}
	if st := body.Incidents[3].State; !st.Expanded || st.Verdict == nil || st.Verdict.Decision != incident.DecisionFraud {
		t.Errorf("tx-fraud state = %+v, want stored verdict", st)
	}
}

func TestGetIncident(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/incidents/tx-heal"); rec.Code != http.StatusOK {
		t.Errorf("GET known = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/incidents/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown = %d, want 404", rec.Code)
	}
}

func TestRunTriage_ToggleUsesCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/incidents/tx-both/triage")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	v := decode[incidentView](t, rec)
	if !v.State.Expanded || v.State.Verdict == nil || v.State.Verdict.Decision != incident.DecisionHealingAndFraud {
		t.Errorf("state = %+v", v.State)
	}
	if len(v.EligibleAgents) != 2 {
		t.Errorf("eligible = %v, want both agents", v.EligibleAgents)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/incidents/tx-both/triage")
	v = decode[incidentView](t, rec)
	if v.State.Expanded {
		t.Error("second triage should collapse the row")
	}

	env.upstream.mu.Lock()
	calls := env.upstream.triageCalls
	env.upstream.mu.Unlock()
	if calls != 1 {
		t.Errorf("triage calls = %d, want 1", calls)
	}
}

func TestRunTriage_FailureRecorded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/incidents/4/triage")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	v := decode[incidentView](t, rec)
	if v.State.TriageError == "" || v.State.Verdict != nil || len(v.EligibleAgents) != 0 {
		t.Errorf("state = %+v, eligible = %v", v.State, v.EligibleAgents)
	}
}

// Agents

func TestRunAgent_StatusCodes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, key := range []string{"tx-heal", "tx-none", "tx-fraud"} {
		env.do(t, http.MethodPost, "/api/v1/incidents/"+key+"/triage")
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"unknown agent", "/api/v1/incidents/tx-heal/agents/routing", http.StatusBadRequest},
		{"unknown incident", "/api/v1/incidents/missing/agents/healing", http.StatusNotFound},
		{"no verdict", "/api/v1/incidents/tx-both/agents/healing", http.StatusUnprocessableEntity},
		{"wrong agent", "/api/v1/incidents/tx-fraud/agents/healing", http.StatusUnprocessableEntity},
		{"unknown decision", "/api/v1/incidents/tx-none/agents/fraud", http.StatusUnprocessableEntity},
		{"eligible", "/api/v1/incidents/tx-heal/agents/healing", http.StatusAccepted},
	}

	for _, tt := range tests {
		rec := env.do(t, http.MethodPost, tt.path)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d (body %s)", tt.name, rec.Code, tt.wantStatus, rec.Body.String())
		}
	}

	waitFor(t, func() bool {
		st := env.rows.Get("tx-heal")
		return !st.AgentLoading && st.AgentOutcome != nil
	})
	st := env.rows.Get("tx-heal")
	if st.AgentOutcome.UpdatedStatus() != "resolved" || st.AgentProgressStep != 4 {
		t.Errorf("final state = %+v", st)
	}
}

func TestRunAgent_BusyRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/incidents/tx-fraud/triage")
	env.rows.Update("tx-fraud", rowstate.Patch{AgentLoading: rowstate.Ptr(true)})

	rec := env.do(t, http.MethodPost, "/api/v1/incidents/tx-fraud/agents/fraud")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestRunAgent_AcceptedResponseShowsProgress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/incidents/tx-both/triage")

	rec := env.do(t, http.MethodPost, "/api/v1/incidents/tx-both/agents/fraud")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	v := decode[incidentView](t, rec)
	if !v.State.AgentLoading || v.State.AgentType != "fraud" || len(v.State.AgentProgressMessages) != 4 {
		t.Errorf("state = %+v", v.State)
	}
	waitFor(t, func() bool { return !env.rows.Get("tx-both").AgentLoading })
}

// Batch

func TestBatch_StartAndPoll(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/triage/batch")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	started := decode[struct {
		ID        string `json:"id"`
		Incidents int    `json:"incidents"`
	}](t, rec)
	if started.ID == "" || started.Incidents != 5 {
		t.Fatalf("start response = %+v", started)
	}

	var b triage.BatchResult
	waitFor(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/triage/batch/"+started.ID)
		if rec.Code != http.StatusOK {
			return false
		}
		b = decode[triage.BatchResult](t, rec)
		return b.Status == triage.BatchComplete
	})

	if b.Total != 5 || b.Failed != 1 || len(b.Items) != 5 {
		t.Errorf("batch = %+v", b)
	}
	for _, key := range []string{"tx-heal", "tx-both", "tx-none", "tx-fraud", "4"} {
		if !env.rows.Get(key).Expanded {
			t.Errorf("row %s not expanded after batch", key)
		}
	}
}

func TestBatch_UnknownID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/api/v1/triage/batch/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// Routing

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/incidents"},
		{http.MethodDelete, "/api/v1/incidents/tx-heal"},
		{http.MethodGet, "/api/v1/incidents/tx-heal/triage"},
		{http.MethodGet, "/api/v1/triage/batch"},
	}
	for _, tt := range tests {
		if rec := env.do(t, tt.method, tt.path); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tt.method, tt.path, rec.Code)
		}
	}
}

type failingRegistry struct{}

func (failingRegistry) List(context.Context) ([]incident.Entry, error) {
	return nil, errors.New("db down")
}

func (failingRegistry) Get(context.Context, string) (incident.Entry, bool, error) {
	return incident.Entry{}, false, errors.New("db down")
}

func TestRegistryErrors(t *testing.T) {
	t.Parallel()

	rows := rowstate.New()
	up := &fakeUpstream{}
	api := New(log.Nop(), Services{
		Registry: failingRegistry{},
		Rows:     rows,
		Triage:   triage.NewClient(up, rows, nil, triage.Hooks{}, nil),
		Agents:   remediation.NewOrchestrator(up, rows, time.Millisecond, nil, remediation.Hooks{}, nil),
		Batches:  triage.NewRunner(up, rows, time.Millisecond, nil, triage.Hooks{}, nil),
	})
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/incidents"},
		{http.MethodGet, "/api/v1/incidents/x"},
		{http.MethodPost, "/api/v1/incidents/x/triage"},
		{http.MethodPost, "/api/v1/triage/batch"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s %s = %d, want 500", tc.method, tc.path, rec.Code)
		}
	}
}
