package gateway

import (
	"errors"
	"fmt"

	"github.com/gluk-w/termgate/internal/termtoken"
)

// ErrAuthTimeout is the cause recorded when no auth envelope arrives in time.
var ErrAuthTimeout = errors.New("authentication timeout")

// Kind classifies why a session ended.
type Kind int

const (
	TokenNotFound Kind = iota + 1
	TokenAlreadyConsumed
	BackendConnectFailure
	BackendStreamFailure
	TransportFailure
	AuthTimeout
)

var kindNames = map[Kind]string{
	TokenNotFound:         "token_not_found",
	TokenAlreadyConsumed:  "token_already_consumed",
	BackendConnectFailure: "backend_connect_failure",
	BackendStreamFailure:  "backend_stream_failure",
	TransportFailure:      "transport_failure",
	AuthTimeout:           "auth_timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ClientMessage is the text shown to the client for errors of this kind.
// Token failures share one message so callers cannot tell an unknown token
// from an expired or spent one. TransportFailure is never shown.
func (k Kind) ClientMessage() string {
	switch k {
	case TokenNotFound, TokenAlreadyConsumed:
		return "invalid or expired session"
	case BackendConnectFailure:
		return "SSH connection error"
	case BackendStreamFailure:
		return "SSH stream error"
	case AuthTimeout:
		return ErrAuthTimeout.Error()
	default:
		return ""
	}
}

// SessionError is the cause of a session closing abnormally.
type SessionError struct {
	Kind Kind
	Err  error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ClientMessage returns the "error" event text, or "" when nothing should be
// sent. Backend failures carry the underlying message for operators.
func (e *SessionError) ClientMessage() string {
	msg := e.Kind.ClientMessage()
	switch e.Kind {
	case BackendConnectFailure, BackendStreamFailure:
		if e.Err != nil {
			return msg + ": " + e.Err.Error()
		}
	}
	return msg
}

// tokenError maps a redemption failure onto a session error kind.
func tokenError(err error) *SessionError {
	if errors.Is(err, termtoken.ErrAlreadyConsumed) {
		return &SessionError{Kind: TokenAlreadyConsumed, Err: err}
	}
	return &SessionError{Kind: TokenNotFound, Err: err}
}
