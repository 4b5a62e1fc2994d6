package api

import (
	"net/http"

	"github.com/soaringjerry/Quill/internal/services"
)

func (rt *Router) handleGetDraft(w http.ResponseWriter, r *http.Request, id services.Identity) {
	d, err := rt.ledger.GetDraft(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	// null body when there is no draft
	writeJSON(w, http.StatusOK, map[string]any{"draft": d})
}

func (rt *Router) handleSaveDraft(w http.ResponseWriter, r *http.Request, id services.Identity) {
	var req answersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := rt.ledger.SaveDraft(r.Context(), id, r.PathValue("id"), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (rt *Router) handleDeleteDraft(w http.ResponseWriter, r *http.Request, id services.Identity) {
	if err := rt.ledger.DeleteDraft(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (rt *Router) handleCanRespond(w http.ResponseWriter, r *http.Request, id services.Identity) {
	ok, err := rt.ledger.CanRespondToday(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"can_respond": ok})
}

func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request, id services.Identity) {
	var req answersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := rt.ledger.Submit(r.Context(), id, r.PathValue("id"), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (rt *Router) handleDeleteResponse(w http.ResponseWriter, r *http.Request, id services.Identity) {
	if err := rt.ledger.DeleteResponse(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (rt *Router) handleAvailableForms(w http.ResponseWriter, r *http.Request, id services.Identity) {
	forms, err := rt.ledger.AvailableForms(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
}

func (rt *Router) handleMyResponses(w http.ResponseWriter, r *http.Request, id services.Identity) {
	rs, err := rt.ledger.MyResponses(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": rs})
}
