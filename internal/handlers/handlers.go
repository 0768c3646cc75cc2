package handlers

import (
	"github.com/coder/websocket"
	"github.com/gluk-w/termgate/internal/gateway"
	"github.com/gluk-w/termgate/internal/termtoken"
	"gorm.io/gorm"
)

// Handlers holds what the HTTP endpoints need. One value is built in main
// and its methods are mounted on the router.
type Handlers struct {
	DB      *gorm.DB
	Tokens  *termtoken.Manager
	Gateway *gateway.Gateway

	// AllowedOrigins lists WebSocket origin patterns. Empty disables the
	// origin check.
	AllowedOrigins []string
	// MaxMessageSize caps a single client frame.
	MaxMessageSize int64
}

func (h *Handlers) acceptOptions() *websocket.AcceptOptions {
	if len(h.AllowedOrigins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.AllowedOrigins}
}
