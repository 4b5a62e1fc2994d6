package api

import (
	"net/http"
	"strconv"

	"github.com/soaringjerry/Quill/internal/services"
)

func (rt *Router) handleAnalyzeForm(w http.ResponseWriter, r *http.Request, id services.Identity) {
	fa, err := rt.analytics.AnalyzeForm(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fa)
}

func (rt *Router) handleAnalyzeQuestion(w http.ResponseWriter, r *http.Request, id services.Identity) {
	qa, err := rt.analytics.AnalyzeQuestion(r.Context(), id, r.PathValue("id"), r.PathValue("qid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qa)
}

// GET /api/dashboard/forms/{id}/export?format=json|csv
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request, id services.Identity) {
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		exp, err := rt.export.ExportForm(r.Context(), id, r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, exp)
	case "csv":
		res, err := rt.export.ExportCSV(r.Context(), id, r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", res.ContentType)
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(res.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Data)
	default:
		writeError(w, r, services.NewInvalidError("unsupported format"))
	}
}
