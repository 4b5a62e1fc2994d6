package api

import (
	"net/http"

	"github.com/soaringjerry/Quill/internal/services"
)

// questions

func (rt *Router) handleListQuestions(w http.ResponseWriter, r *http.Request, _ services.Identity) {
	qs, err := rt.questions.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
}

func (rt *Router) handleCreateQuestion(w http.ResponseWriter, r *http.Request, id services.Identity) {
	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := rt.questions.Create(r.Context(), id, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (rt *Router) handleGetQuestion(w http.ResponseWriter, r *http.Request, _ services.Identity) {
	q, err := rt.questions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (rt *Router) handleUpdateQuestion(w http.ResponseWriter, r *http.Request, id services.Identity) {
	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := rt.questions.Update(r.Context(), id, r.PathValue("id"), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (rt *Router) handleDeleteQuestion(w http.ResponseWriter, r *http.Request, id services.Identity) {
	if err := rt.questions.Delete(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// forms

func (rt *Router) handleListForms(w http.ResponseWriter, r *http.Request, id services.Identity) {
	forms, err := rt.forms.List(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
}

func (rt *Router) handleCreateForm(w http.ResponseWriter, r *http.Request, id services.Identity) {
	var req formRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := rt.forms.Create(r.Context(), id, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (rt *Router) handleGetForm(w http.ResponseWriter, r *http.Request, id services.Identity) {
	f, err := rt.forms.Get(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (rt *Router) handleUpdateForm(w http.ResponseWriter, r *http.Request, id services.Identity) {
	var req formRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := rt.forms.Update(r.Context(), id, r.PathValue("id"), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (rt *Router) handleDeleteForm(w http.ResponseWriter, r *http.Request, id services.Identity) {
	if err := rt.forms.Delete(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (rt *Router) handleSetActive(active bool) identityHandler {
	return func(w http.ResponseWriter, r *http.Request, id services.Identity) {
		f, err := rt.forms.SetActive(r.Context(), id, r.PathValue("id"), active)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

func (rt *Router) handleAssign(w http.ResponseWriter, r *http.Request, id services.Identity) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := rt.forms.Assign(r.Context(), id, r.PathValue("id"), req.UserIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}
