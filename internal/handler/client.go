package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"trafficcounter/internal/hub"
	"trafficcounter/internal/logger"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler handles viewer connections over WebSocket and
// registers them in the hub to receive broadcast frames.
func ViewWebsocketHandler(h *hub.Hub, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		ctx := r.Context()
		if err := h.Register(ctx, connection); err != nil {
			connection.Close()
			return
		}
		defer h.Unregister(ctx, connection)

		// viewers only listen; reading drives close and ping handling
		for {
			_, _, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				break
			}
		}
	}
}
