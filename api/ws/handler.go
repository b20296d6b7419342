package ws

import (
	"net/http"

	gws "github.com/gorilla/websocket"

	"github.com/auranym/dicechat/internal/relay"
	"github.com/auranym/dicechat/pkg/logger"
)

var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Peers connect from any origin; the relay holds no state an
		// origin check would protect.
		return true
	},
}

// HandleRelay upgrades an HTTP connection and hands it to the relay
// hub as a peer.
func HandleRelay(hub *relay.Hub, logg logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logg.Errorf("upgrade error: %v", err)
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		peer := relay.NewPeer(conn, hub, logg)
		logg.Debugf("new peer from %s", conn.RemoteAddr())

		go peer.ReadPump()
		go peer.WritePump()
	}
}
