package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/unihub-app/unihub/backend/internal/chat"
	"github.com/unihub-app/unihub/backend/internal/models"
	"github.com/unihub-app/unihub/backend/internal/validate"
)

// Sessions resolves user access tokens to identities. Satisfied by the
// supabase client.
type Sessions interface {
	GetSession(ctx context.Context, accessToken string) (*models.Identity, error)
}

// MessageHandler contains HTTP handlers for the message timeline.
type MessageHandler struct {
	chat     *chat.Service
	sessions Sessions
	val      *validate.Validator
	logger   *slog.Logger
}

// NewMessageHandler creates a new MessageHandler instance.
func NewMessageHandler(chatSvc *chat.Service, sessions Sessions, val *validate.Validator, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{chat: chatSvc, sessions: sessions, val: val, logger: logger}
}

// identity authenticates the request or writes the denial response.
func identity(w http.ResponseWriter, r *http.Request, sessions Sessions) (*models.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return nil, false
	}
	ident, err := sessions.GetSession(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusBadGateway, "could not verify session")
		return nil, false
	}
	if ident == nil {
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return nil, false
	}
	return ident, true
}

// Send handles POST /api/scopes/{kind}/{id}/messages
// Validates the payload locally, then hands it to the reconciler: the
// provisional entry is visible immediately and the write completes in the
// background.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid scope")
		return
	}
	ident, ok := identity(w, r, h.sessions)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := h.val.Struct(req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": errs})
		return
	}

	if err := h.chat.Open(r.Context(), scope); err != nil {
		h.logger.Error("could not open scope", "scope", scope.Key(), "error", err)
		writeError(w, http.StatusBadGateway, "could not open conversation")
		return
	}

	tempID, err := h.chat.Send(scope, *ident, req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not send message")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": tempID})
}

// Timeline handles GET /api/scopes/{kind}/{id}/messages
// Returns the reconciled timeline, provisional entries included.
func (h *MessageHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid scope")
		return
	}
	if _, ok := identity(w, r, h.sessions); !ok {
		return
	}

	if err := h.chat.Open(r.Context(), scope); err != nil {
		h.logger.Error("could not open scope", "scope", scope.Key(), "error", err)
		writeError(w, http.StatusBadGateway, "could not open conversation")
		return
	}

	writeJSON(w, http.StatusOK, models.TimelineResponse{Messages: h.chat.Timeline(scope)})
}
