// Package promptapi exposes the review prompt over HTTP.
package promptapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/nudge/internal/authmw"
	"github.com/linnemanlabs/nudge/internal/nudge"
)

// PromptService defines the business operations promptapi needs.
type PromptService interface {
	Current(ctx context.Context, userID string) (*nudge.Selection, error)
	Dismiss(ctx context.Context, userID string, act nudge.Action) (*nudge.DismissResult, error)
	Record(ctx context.Context, userID string) (*nudge.Record, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    PromptService
}

// New creates a new API handler.
func New(logger log.Logger, svc PromptService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("prompt service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. The routes expect
// authmw.RequireUser to have run.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/prompt", func(r chi.Router) {
		// answers are per user and change after every dismissal
		r.Use(middleware.NoCache)

		r.Get("/", a.handleGetPrompt)
		r.Get("/record", a.handleGetRecord)
		r.Post("/dismissals", a.handleDismiss)
	})
}

// userID returns the authenticated user or writes a 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := authmw.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
