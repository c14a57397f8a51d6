package gate

import (
	"encoding/json"
	"errors"
)

const (
	frameRequest  = "request"
	frameResponse = "response"
	frameEvent    = "event"
	frameError    = "error"

	eventMessage = "message"

	methodRegister = "register"
	methodLogin    = "login"
	methodFindUser = "find_user"
)

var (
	// ErrNotStarted is returned by calls made before Start or after Stop.
	ErrNotStarted = errors.New("gate: client not started")
	// ErrClosed is returned to calls pending when the connection closes.
	ErrClosed = errors.New("gate: connection closed")
)

// Frame is the JSON envelope exchanged with the gateway in both directions.
type Frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// RemoteError is an error reported by the gateway.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type accountReply struct {
	ID int64 `json:"id"`
}

type findUserPayload struct {
	Username string `json:"username"`
}

type findUserReply struct {
	IDs []int64 `json:"ids"`
}
