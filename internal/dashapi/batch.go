package dashapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (a *API) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.Registry.List(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents for batch")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	id := a.svc.Batches.Start(r.Context(), entries)
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("remedy.batch.id", id))
	a.logger.Info(r.Context(), "batch triage accepted", "batch_id", id, "incidents", len(entries))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":        id,
		"incidents": len(entries),
	})
}

func (a *API) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("remedy.batch.id", id))

	b, ok := a.svc.Batches.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}
