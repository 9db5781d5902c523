package dashapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/remediation"
)

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.Registry.List(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rows := a.svc.Rows.Snapshot()
	out := make([]incidentView, 0, len(entries))
	for _, e := range entries {
		out = append(out, view(e, rows[e.Key]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": out})
}

// lookup resolves the {key} URL parameter, writing the error response itself
// when it returns false.
func (a *API) lookup(w http.ResponseWriter, r *http.Request) (incident.Entry, bool) {
	key := chi.URLParam(r, "key")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("remedy.incident.key", key))

	e, ok, err := a.svc.Registry.Get(r.Context(), key)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "key", key)
		writeError(w, http.StatusInternalServerError, "internal error")
		return incident.Entry{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return incident.Entry{}, false
	}
	return e, true
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	e, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view(e, a.svc.Rows.Get(e.Key)))
}

func (a *API) handleRunTriage(w http.ResponseWriter, r *http.Request) {
	e, ok := a.lookup(w, r)
	if !ok {
		return
	}
	// a client disconnect must not abort the in-flight triage call
	st := a.svc.Triage.Run(context.WithoutCancel(r.Context()), e)
	writeJSON(w, http.StatusOK, view(e, st))
}

func (a *API) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := remediation.ParseAgent(chi.URLParam(r, "agent"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, ok := a.lookup(w, r)
	if !ok {
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("remedy.agent", string(agent)))

	st, err := a.svc.Agents.Start(r.Context(), e, agent)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, view(e, st))
	case errors.Is(err, remediation.ErrAgentBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, remediation.ErrNotEligible), errors.Is(err, remediation.ErrNoVerdict):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, remediation.ErrUnknownAgent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(r.Context(), err, "failed to start agent", "key", e.Key, "agent", agent)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
