package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/unihub-app/unihub/backend/internal/models"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionSource resolves access tokens. Satisfied by the supabase client.
type SessionSource interface {
	GetSession(ctx context.Context, accessToken string) (*models.Identity, error)
}

// Opener ensures a scope's timeline is loaded and subscribed before the
// relay accepts sends for it. Satisfied by chat.Service.
type Opener interface {
	Open(ctx context.Context, scope models.Scope) error
}

// Handler handles WebSocket connections.
type Handler struct {
	hub      *Hub
	chat     Sender
	opener   Opener
	sessions SessionSource
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, chat Sender, opener Opener, sessions SessionSource, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, chat: chat, opener: opener, sessions: sessions, logger: logger}
}

// ServeWS handles WebSocket upgrade requests at /ws/{kind}/{id}
// Query params: access_token
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	scope := models.Scope{
		Kind: models.ScopeKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	if !scope.Valid() {
		http.Error(w, "invalid scope", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("access_token")
	if token == "" {
		http.Error(w, "access_token required", http.StatusUnauthorized)
		return
	}
	ident, err := h.sessions.GetSession(r.Context(), token)
	if err != nil || ident == nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	if err := h.opener.Open(r.Context(), scope); err != nil {
		h.logger.Error("could not open scope for relay", "scope", scope.Key(), "error", err)
		http.Error(w, "could not open conversation", http.StatusBadGateway)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.logger.Info("websocket connected", "scope", scope.Key(), "user", ident.ID)

	client := NewClient(h.hub, conn, scope, *ident, h.chat, h.logger)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
