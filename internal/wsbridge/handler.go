package wsbridge

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to websockets and registers the
// resulting Client with a Hub.
type Handler struct {
	hub    *Hub
	auth   Authenticator
	cancel Canceller
	logger *logging.Logger
}

// NewHandler builds a Handler. cancel is typically an *api.Service.
func NewHandler(hub *Hub, auth Authenticator, cancel Canceller, logger *logging.Logger) *Handler {
	return &Handler{hub: hub, auth: auth, cancel: cancel, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		h.logger.Emit("", "", logging.LevelWarn, logging.CategoryInfo, "wsbridge authentication failed", map[string]any{"error": err.Error(), "remote_addr": r.RemoteAddr})
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Emit("", "", logging.LevelError, logging.CategoryInfo, "wsbridge upgrade failed", map[string]any{"error": err.Error(), "remote_addr": r.RemoteAddr})
		return
	}

	client := NewClient(uuid.NewString(), userID, h.hub, conn, h.cancel)
	h.logger.Emit("", "", logging.LevelInfo, logging.CategoryInfo, "wsbridge client connected", map[string]any{"client_id": client.id, "user_id": userID})

	h.hub.register <- client
	go client.writePump()
	go client.readPump()
}
