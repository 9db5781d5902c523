// Package dashapi exposes the incident triage and remediation workflow to the
// dashboard over HTTP.
package dashapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/remediation"
	"github.com/linnemanlabs/remedy/internal/rowstate"
	"github.com/linnemanlabs/remedy/internal/triage"
)

// TriageRunner runs triage for a single row.
type TriageRunner interface {
	Run(ctx context.Context, e incident.Entry) rowstate.State
}

// AgentStarter starts remediation agent runs.
type AgentStarter interface {
	Start(ctx context.Context, e incident.Entry, agent remediation.Agent) (rowstate.State, error)
}

// BatchRunner starts and reports batch triage runs.
type BatchRunner interface {
	Start(ctx context.Context, entries []incident.Entry) string
	Get(id string) (triage.BatchResult, bool)
}

// Services are the workflow dependencies of the API. All are required.
type Services struct {
	Registry incident.Registry
	Rows     *rowstate.Store
	Triage   TriageRunner
	Agents   AgentStarter
	Batches  BatchRunner
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    Services
}

// New creates a new API handler.
func New(logger log.Logger, svc Services) *API {
	if logger == nil {
		logger = log.Nop()
	}
	switch {
	case svc.Registry == nil:
		panic(xerrors.New("incident registry is required"))
	case svc.Rows == nil:
		panic(xerrors.New("row state store is required"))
	case svc.Triage == nil:
		panic(xerrors.New("triage runner is required"))
	case svc.Agents == nil:
		panic(xerrors.New("agent starter is required"))
	case svc.Batches == nil:
		panic(xerrors.New("batch runner is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{key}", a.handleGetIncident)
		r.Post("/incidents/{key}/triage", a.handleRunTriage)
		r.Post("/incidents/{key}/agents/{agent}", a.handleRunAgent)
		r.Post("/triage/batch", a.handleStartBatch)
		r.Get("/triage/batch/{id}", a.handleGetBatch)
	})
}

// incidentView is an incident together with its workflow state.
type incidentView struct {
	Key            string              `json:"key"`
	Index          int                 `json:"index"`
	Incident       incident.Incident   `json:"incident"`
	State          rowstate.State      `json:"state"`
	EligibleAgents []remediation.Agent `json:"eligible_agents"`
}

func view(e incident.Entry, st rowstate.State) incidentView {
	v := incidentView{
		Key:            e.Key,
		Index:          e.Index,
		Incident:       e.Incident,
		State:          st,
		EligibleAgents: []remediation.Agent{},
	}
	if st.Verdict != nil {
		if agents := remediation.EligibleAgents(st.Verdict.Decision); agents != nil {
			v.EligibleAgents = agents
		}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
