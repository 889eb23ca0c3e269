package promptapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/nudge/internal/nudge"
)

type promptResponse struct {
	Prompt *nudge.Selection `json:"prompt"`
}

func (a *API) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	sel, err := a.svc.Current(r.Context(), uid)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to select prompt", "user_id", uid)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sel == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("nudge.group", sel.Group),
		attribute.String("nudge.trigger", sel.Code),
	)
	writeJSON(w, http.StatusOK, promptResponse{Prompt: sel})
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	rec, err := a.svc.Record(r.Context(), uid)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load record", "user_id", uid)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec.DismissedGroups == nil {
		rec.DismissedGroups = map[string]int{}
	}
	writeJSON(w, http.StatusOK, rec)
}
