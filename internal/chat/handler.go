package chat

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to websocket connections and admits
// them to the registry. Connections start unauthenticated; identity is
// established in-band through the authenticate event so a client may
// retry a bad credential without reconnecting.
type Handler struct {
	router         *Router
	registry       *Registry
	maxMessageSize int64
	upgrader       websocket.Upgrader
	log            *slog.Logger
}

func NewHandler(router *Router, registry *Registry, allowedOrigins []string, maxMessageSize int64, log *slog.Logger) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		router:         router,
		registry:       registry,
		maxMessageSize: maxMessageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// No configured origins = dev mode, allow all.
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		log: log,
	}
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "err", err)
		return
	}

	client := newClient(conn, h.router, h.log)
	h.registry.Admit(client)

	go client.writePump()
	go client.readPump(h.maxMessageSize)
}
