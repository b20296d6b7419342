package ws

import (
	"net/http"

	"github.com/auranym/dicechat/internal/relay"
	"github.com/auranym/dicechat/pkg/logger"
)

// WSConfig carries the relay endpoint dependencies.
type WSConfig struct {
	Hub    *relay.Hub
	Logger logger.Logger
}

// SetupRelayRoutes returns the relay's HTTP handler: peers connect at
// /ws and a health probe answers at /healthz.
func SetupRelayRoutes(cfg WSConfig) http.Handler {
	log := cfg.Logger.WithModule("ws")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", HandleRelay(cfg.Hub, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
