package gateway

import (
	"encoding/json"
	"testing"

	"github.com/coder/websocket"
)

func TestDecodeClientFrame(t *testing.T) {
	tests := []struct {
		name string
		typ  websocket.MessageType
		in   string
		want clientMessage
	}{
		{
			name: "auth numeric vm",
			typ:  websocket.MessageText,
			in:   `{"type":"auth","username":"alice","vmId":42,"terminalToken":"abc"}`,
			want: clientMessage{kind: msgAuth, auth: authRequest{Username: "alice", VMID: 42, Token: "abc"}},
		},
		{
			name: "auth string vm",
			typ:  websocket.MessageText,
			in:   `{"type":"auth","username":"alice","vmId":"42","terminalToken":"abc"}`,
			want: clientMessage{kind: msgAuth, auth: authRequest{Username: "alice", VMID: 42, Token: "abc"}},
		},
		{
			name: "auth missing vm",
			typ:  websocket.MessageText,
			in:   `{"type":"auth","username":"alice","terminalToken":"abc"}`,
			want: clientMessage{kind: msgAuth, auth: authRequest{Username: "alice", Token: "abc"}},
		},
		{
			name: "resize",
			typ:  websocket.MessageText,
			in:   `{"type":"resize","data":{"rows":30,"cols":100}}`,
			want: clientMessage{kind: msgResize, rows: 30, cols: 100},
		},
		{
			name: "resize clamped",
			typ:  websocket.MessageText,
			in:   `{"type":"resize","data":{"rows":99999,"cols":501}}`,
			want: clientMessage{kind: msgResize, rows: 500, cols: 500},
		},
		{
			name: "resize zero",
			typ:  websocket.MessageText,
			in:   `{"type":"resize","data":{"rows":0,"cols":80}}`,
			want: clientMessage{kind: msgIgnored},
		},
		{
			name: "resize without data",
			typ:  websocket.MessageText,
			in:   `{"type":"resize"}`,
			want: clientMessage{kind: msgIgnored},
		},
		{
			name: "resize with string dims",
			typ:  websocket.MessageText,
			in:   `{"type":"resize","data":{"rows":"30","cols":"100"}}`,
			want: clientMessage{kind: msgIgnored},
		},
		{
			name: "input envelope",
			typ:  websocket.MessageText,
			in:   `{"type":"input","data":"ls -la\n"}`,
			want: clientMessage{kind: msgInput, data: []byte("ls -la\n")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeClientFrame(tt.typ, []byte(tt.in))
			if got.kind != tt.want.kind || got.auth != tt.want.auth ||
				got.rows != tt.want.rows || got.cols != tt.want.cols ||
				string(got.data) != string(tt.want.data) {
				t.Errorf("decodeClientFrame(%s) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeClientFrameRawPassthrough(t *testing.T) {
	cases := []struct {
		typ websocket.MessageType
		in  string
	}{
		{websocket.MessageText, "ls\n"},
		{websocket.MessageText, ""},
		{websocket.MessageText, "null"},
		{websocket.MessageText, "{}"},
		{websocket.MessageText, `{"type":"unknown"}`},
		{websocket.MessageText, `{"type":"input"}`},
		{websocket.MessageText, `{"type":`},
		{websocket.MessageText, "\x03"},
		{websocket.MessageBinary, `{"type":"auth","username":"a","vmId":1,"terminalToken":"t"}`},
		{websocket.MessageBinary, "\xff\xfe"},
	}
	for _, c := range cases {
		got := decodeClientFrame(c.typ, []byte(c.in))
		if got.kind != msgRaw {
			t.Errorf("decodeClientFrame(%q) kind = %v, want raw", c.in, got.kind)
			continue
		}
		if string(got.data) != c.in {
			t.Errorf("decodeClientFrame(%q) data = %q, want input unchanged", c.in, got.data)
		}
	}
}

func TestParseVMID(t *testing.T) {
	tests := []struct {
		in   string
		want uint
	}{
		{`42`, 42},
		{`"42"`, 42},
		{`" 7 "`, 7},
		{`0`, 0},
		{`-1`, 0},
		{`4.2`, 0},
		{`"abc"`, 0},
		{`null`, 0},
		{`true`, 0},
		{``, 0},
	}
	for _, tt := range tests {
		if got := parseVMID(json.RawMessage(tt.in)); got != tt.want {
			t.Errorf("parseVMID(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		ev   serverEvent
		want string
	}{
		{serverEvent{Type: EventConnected}, `{"type":"connected"}`},
		{serverEvent{Type: EventDisconnected}, `{"type":"disconnected"}`},
		{serverEvent{Type: EventOutput, Data: "a\"b\n"}, `{"type":"output","data":"a\"b\n"}`},
		{serverEvent{Type: EventError, Message: "invalid or expired session"}, `{"type":"error","message":"invalid or expired session"}`},
	}
	for _, tt := range tests {
		if got := string(encodeEvent(tt.ev)); got != tt.want {
			t.Errorf("encodeEvent(%+v) = %s, want %s", tt.ev, got, tt.want)
		}
	}
}
