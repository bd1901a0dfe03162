package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"edgecam/internal/logger"
	"edgecam/internal/metrics"
	wshub "edgecam/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket. Origins are checked by
// the CORS layer, so CheckOrigin allows all.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler handles viewer connections over WebSocket and
// registers them in the HubService to receive newly stored artifacts.
func ViewWebsocketHandler(hub *wshub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		ctx := r.Context()
		if !hub.Register(ctx, connection) {
			connection.Close()
			return
		}
		metrics.Viewers.Inc()
		defer func() {
			metrics.Viewers.Dec()
			hub.Unregister(ctx, connection)
		}()

		// viewers only listen; reading detects the close
		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				return
			}
		}
	}
}
