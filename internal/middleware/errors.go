package middleware

import (
	"encoding/json"
	"net/http"
)

// writeJSONError uses the same {"error","code"} body as the API handlers.
func writeJSONError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
