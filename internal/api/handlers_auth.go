package api

import (
	"net/http"

	"github.com/soaringjerry/Quill/internal/services"
)

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := rt.auth.Register(r.Context(), services.RegisterRequest{
		Name: req.Name, Email: req.Email, Password: req.Password, Anonymous: req.Anonymous,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := rt.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleMe(w http.ResponseWriter, r *http.Request, id services.Identity) {
	u, err := rt.auth.Me(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (rt *Router) handleListUsers(w http.ResponseWriter, r *http.Request, id services.Identity) {
	users, err := rt.auth.ListUsers(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (rt *Router) handleCreateUser(w http.ResponseWriter, r *http.Request, id services.Identity) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := rt.auth.CreateUser(r.Context(), id, services.CreateUserRequest{
		RegisterRequest: services.RegisterRequest{Name: req.Name, Email: req.Email, Password: req.Password, Anonymous: req.Anonymous},
		Role:            req.Role,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (rt *Router) handleDeleteUser(w http.ResponseWriter, r *http.Request, id services.Identity) {
	if err := rt.auth.DeleteUser(r.Context(), id, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
