package handlers

import (
	"log/slog"
	"net/http"

	"github.com/unihub-app/unihub/backend/internal/models"
	"github.com/unihub-app/unihub/backend/internal/reads"
)

// ReadsHandler contains HTTP handlers for read-cursor tracking.
type ReadsHandler struct {
	reads    *reads.Service
	sessions Sessions
	logger   *slog.Logger
}

// NewReadsHandler creates a new ReadsHandler instance.
func NewReadsHandler(readsSvc *reads.Service, sessions Sessions, logger *slog.Logger) *ReadsHandler {
	return &ReadsHandler{reads: readsSvc, sessions: sessions, logger: logger}
}

// MarkRead handles POST /api/scopes/{kind}/{id}/read
// Upserts read receipts for everything the user has now seen. Safe to call
// on every view focus; re-marking is a no-op.
func (h *ReadsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid scope")
		return
	}
	ident, ok := identity(w, r, h.sessions)
	if !ok {
		return
	}

	if err := h.reads.MarkRead(r.Context(), scope, ident.ID); err != nil {
		h.logger.Error("mark read failed", "scope", scope.Key(), "user", ident.ID, "error", err)
		writeError(w, http.StatusBadGateway, "could not mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unread handles GET /api/scopes/{kind}/{id}/unread
// Returns the recomputed unread count for the user.
func (h *ReadsHandler) Unread(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid scope")
		return
	}
	ident, ok := identity(w, r, h.sessions)
	if !ok {
		return
	}

	n, err := h.reads.UnreadCount(r.Context(), scope, ident.ID)
	if err != nil {
		h.logger.Error("unread count failed", "scope", scope.Key(), "user", ident.ID, "error", err)
		writeError(w, http.StatusBadGateway, "could not compute unread count")
		return
	}
	writeJSON(w, http.StatusOK, models.UnreadCountResponse{Scope: scope.Key(), Unread: n})
}
