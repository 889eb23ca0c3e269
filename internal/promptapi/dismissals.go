package promptapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linnemanlabs/nudge/internal/nudge"
)

type dismissRequest struct {
	Group    string `json:"group"`
	Code     string `json:"code"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason"`
}

type dismissResponse struct {
	EventID string        `json:"event_id"`
	Record  *nudge.Record `json:"record"`
}

func (a *API) handleDismiss(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req dismissRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Group == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "group and code are required")
		return
	}
	reason, err := nudge.ParseReason(req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown reason")
		return
	}

	res, err := a.svc.Dismiss(r.Context(), uid, nudge.Action{
		Group:    req.Group,
		Code:     req.Code,
		Priority: req.Priority,
		Reason:   reason,
	})
	switch {
	case errors.Is(err, nudge.ErrUnknownTrigger):
		writeError(w, http.StatusNotFound, "unknown trigger")
		return
	case errors.Is(err, nudge.ErrPromptClosed):
		writeError(w, http.StatusConflict, "prompt closed")
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to record dismissal", "user_id", uid, "group", req.Group, "trigger", req.Code)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, dismissResponse{EventID: res.Event.ID, Record: res.Record})
}
