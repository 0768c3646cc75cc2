package gateway

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/gluk-w/termgate/internal/sshterminal"
)

// Server event types.
const (
	EventConnected    = "connected"
	EventOutput       = "output"
	EventError        = "error"
	EventDisconnected = "disconnected"
)

type messageKind int

const (
	msgRaw messageKind = iota
	msgAuth
	msgResize
	msgInput
	msgIgnored
)

// clientMessage is a decoded client frame.
type clientMessage struct {
	kind messageKind
	// data is the bytes to forward for msgRaw and msgInput.
	data []byte
	auth authRequest
	rows uint16
	cols uint16
}

type authRequest struct {
	Username string
	VMID     uint
	Token    string
}

type envelope struct {
	Type          string          `json:"type"`
	Username      string          `json:"username"`
	VMID          json.RawMessage `json:"vmId"`
	TerminalToken string          `json:"terminalToken"`
	Data          json.RawMessage `json:"data"`
}

type resizeData struct {
	Rows int64 `json:"rows"`
	Cols int64 `json:"cols"`
}

// decodeClientFrame classifies one transport frame. Binary frames and text
// that is not a known envelope come back as msgRaw carrying the original
// bytes. A resize envelope without usable dimensions comes back as
// msgIgnored.
func decodeClientFrame(typ websocket.MessageType, payload []byte) clientMessage {
	raw := clientMessage{kind: msgRaw, data: payload}
	if typ != websocket.MessageText {
		return raw
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return raw
	}

	switch env.Type {
	case "auth":
		return clientMessage{
			kind: msgAuth,
			auth: authRequest{
				Username: env.Username,
				VMID:     parseVMID(env.VMID),
				Token:    env.TerminalToken,
			},
		}

	case "resize":
		var d resizeData
		if len(env.Data) == 0 || json.Unmarshal(env.Data, &d) != nil || d.Rows <= 0 || d.Cols <= 0 {
			return clientMessage{kind: msgIgnored}
		}
		rows, cols := sshterminal.ClampSize(clampUint16(d.Rows), clampUint16(d.Cols))
		return clientMessage{kind: msgResize, rows: rows, cols: cols}

	case "input":
		var s string
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return raw
		}
		return clientMessage{kind: msgInput, data: []byte(s)}
	}
	return raw
}

// parseVMID accepts a JSON number or a string holding one. Anything else
// yields 0, which no token is ever scoped to.
func parseVMID(raw json.RawMessage) uint {
	if len(raw) == 0 {
		return 0
	}
	s := string(raw)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		s = strings.TrimSpace(s)
	}
	id, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0
	}
	return uint(id)
}

func clampUint16(v int64) uint16 {
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}

type serverEvent struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func encodeEvent(ev serverEvent) []byte {
	b, _ := json.Marshal(ev)
	return b
}
