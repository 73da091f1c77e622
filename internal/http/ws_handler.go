package api

import (
	"net/http"

	"github.com/coder/websocket"

	"pollroom/internal/hub"
)

// handleWS upgrades a watcher connection and hands it to the hub. Room
// membership is driven by poll:join / poll:leave messages on the socket.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slogLogger.Warn("websocket accept failed", "err", err)
		return
	}

	client := hub.NewClient(h.hub, conn)
	client.Start()
}
