package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/unihub-app/unihub/backend/internal/models"
)

// writeJSON encodes body as the JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// scopeFromRequest resolves the {kind}/{id} path segments to a scope.
func scopeFromRequest(r *http.Request) (models.Scope, bool) {
	scope := models.Scope{
		Kind: models.ScopeKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	return scope, scope.Valid()
}

// bearerToken extracts the user access token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
