package handlers

import (
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gluk-w/termgate/internal/audit"
)

// TerminalWS upgrades to a WebSocket and hands the connection to the
// gateway. The connection authenticates itself with a terminal token in its
// first message, so no session credential is required here.
func (h *Handlers) TerminalWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	if h.MaxMessageSize > 0 {
		conn.SetReadLimit(h.MaxMessageSize)
	}

	h.Gateway.Serve(r.Context(), conn, audit.ExtractSourceIP(r))
}
