package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/soaringjerry/Quill/internal/middleware"
	"github.com/soaringjerry/Quill/internal/models"
	"github.com/soaringjerry/Quill/internal/services"
)

// Options tune the services the router builds on top of its store.
type Options struct {
	// SingleActive selects legacy mode: one active form, assignments ignored.
	SingleActive bool
	// Location defines calendar days for diary forms.
	Location *time.Location
	Signer   services.TokenSigner
	TokenTTL time.Duration
}

type Router struct {
	store     Store
	auth      *services.AuthService
	questions *services.QuestionService
	forms     *services.FormService
	ledger    *services.LedgerService
	analytics *services.AnalyticsService
	export    *services.ExportService
}

func NewRouter(store Store, opts Options) *Router {
	elig := services.Eligibility{SingleActive: opts.SingleActive}
	return &Router{
		store:     store,
		auth:      services.NewAuthService(store, opts.Signer, opts.TokenTTL),
		questions: services.NewQuestionService(store),
		forms:     services.NewFormService(store, elig),
		ledger:    services.NewLedgerService(store, elig, opts.Location),
		analytics: services.NewAnalyticsService(store),
		export:    services.NewExportService(store),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", rt.handleRegister)
	mux.HandleFunc("POST /api/auth/login", rt.handleLogin)
	mux.HandleFunc("GET /api/me", rt.authed(rt.handleMe))
	mux.HandleFunc("GET /api/me/forms", rt.authed(rt.handleAvailableForms))
	mux.HandleFunc("GET /api/me/responses", rt.authed(rt.handleMyResponses))

	mux.HandleFunc("GET /api/users", rt.authed(rt.handleListUsers))
	mux.HandleFunc("POST /api/users", rt.authed(rt.handleCreateUser))
	mux.HandleFunc("DELETE /api/users/{id}", rt.authed(rt.handleDeleteUser))

	mux.HandleFunc("GET /api/questions", rt.authed(rt.handleListQuestions))
	mux.HandleFunc("POST /api/questions", rt.authed(rt.handleCreateQuestion))
	mux.HandleFunc("GET /api/questions/{id}", rt.authed(rt.handleGetQuestion))
	mux.HandleFunc("PUT /api/questions/{id}", rt.authed(rt.handleUpdateQuestion))
	mux.HandleFunc("DELETE /api/questions/{id}", rt.authed(rt.handleDeleteQuestion))

	mux.HandleFunc("GET /api/forms", rt.authed(rt.handleListForms))
	mux.HandleFunc("POST /api/forms", rt.authed(rt.handleCreateForm))
	mux.HandleFunc("GET /api/forms/{id}", rt.authed(rt.handleGetForm))
	mux.HandleFunc("PUT /api/forms/{id}", rt.authed(rt.handleUpdateForm))
	mux.HandleFunc("DELETE /api/forms/{id}", rt.authed(rt.handleDeleteForm))
	mux.HandleFunc("POST /api/forms/{id}/activate", rt.authed(rt.handleSetActive(true)))
	mux.HandleFunc("POST /api/forms/{id}/deactivate", rt.authed(rt.handleSetActive(false)))
	mux.HandleFunc("PUT /api/forms/{id}/assignments", rt.authed(rt.handleAssign))

	mux.HandleFunc("GET /api/forms/{id}/draft", rt.authed(rt.handleGetDraft))
	mux.HandleFunc("PUT /api/forms/{id}/draft", rt.authed(rt.handleSaveDraft))
	mux.HandleFunc("DELETE /api/forms/{id}/draft", rt.authed(rt.handleDeleteDraft))
	mux.HandleFunc("GET /api/forms/{id}/can-respond", rt.authed(rt.handleCanRespond))
	mux.HandleFunc("POST /api/forms/{id}/responses", rt.authed(rt.handleSubmit))
	mux.HandleFunc("DELETE /api/responses/{id}", rt.authed(rt.handleDeleteResponse))

	mux.HandleFunc("GET /api/dashboard/forms/{id}/analysis", rt.authed(rt.handleAnalyzeForm))
	mux.HandleFunc("GET /api/dashboard/forms/{id}/questions/{qid}/analysis", rt.authed(rt.handleAnalyzeQuestion))
	mux.HandleFunc("GET /api/dashboard/forms/{id}/export", rt.authed(rt.handleExport))

	mux.HandleFunc("GET /api/audit", rt.authed(rt.handleAudit))
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id services.Identity)

// authed resolves the bearer token subject to a live user before calling h.
func (rt *Router) authed(h identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			writeError(w, r, services.NewUnauthorizedError("unauthorized"))
			return
		}
		id, err := rt.auth.Authenticate(r.Context(), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		h(w, r, id)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorInvalidState:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError maps ServiceErrors to their status; anything else is logged and
// reported as a generic internal failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se, ok := services.AsServiceError(err); ok {
		writeJSON(w, statusFor(se.Code), map[string]string{"error": se.Message, "code": string(se.Code)})
		return
	}
	log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "code": "internal"})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request, id services.Identity) {
	if !id.HasRole(models.RoleAdmin) {
		writeError(w, r, services.NewForbiddenError("forbidden"))
		return
	}
	entries, err := rt.store.ListAudit(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
