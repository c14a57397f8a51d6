package ipc

import (
	"time"

	"candybridge/internal/bridge"
	"candybridge/internal/journal"
)

// ServiceName is the JSON-RPC service name registered on the control socket.
const ServiceName = "Candy"

// CredentialsRequest carries a username and password for Register and Login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AccountResponse wraps the account call result.
type AccountResponse struct {
	Result bridge.Result `json:"result"`
}

// SearchUserRequest names the user to search for.
type SearchUserRequest struct {
	Username string `json:"username"`
}

// SearchUserResponse contains the search outcome.
type SearchUserResponse struct {
	List bridge.UserList `json:"list"`
}

// EchoRequest carries a probe to reflect.
type EchoRequest struct {
	Probe bridge.Probe `json:"probe"`
}

// EchoResponse returns the reflected probe.
type EchoResponse struct {
	Probe bridge.Probe `json:"probe"`
}

// StatusRequest fetches service status.
type StatusRequest struct{}

// StatusResponse describes the connection and daemon.
type StatusResponse struct {
	State            string    `json:"state"`
	Endpoint         string    `json:"endpoint"`
	LastError        string    `json:"last_error"`
	ConnectedAt      time.Time `json:"connected_at"`
	Subscribers      int       `json:"subscribers"`
	Watchers         int       `json:"watchers"`
	PID              int       `json:"pid"`
	LockPath         string    `json:"lock_path"`
	ReconnectSeconds float64   `json:"reconnect_seconds"`
	JournalEnabled   bool      `json:"journal_enabled"`
}

// RestartRequest asks the daemon to reconnect.
type RestartRequest struct{}

// RestartResponse reports the restart outcome as a Result without an ID.
type RestartResponse struct {
	Result bridge.Result `json:"result"`
	State  string        `json:"state"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Accepted bool `json:"accepted"`
	PID      int  `json:"pid"`
}

// HistoryRequest asks for the most recent journal entries.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse returns journal entries, oldest first.
type HistoryResponse struct {
	Enabled bool            `json:"enabled"`
	Entries []journal.Entry `json:"entries"`
}

// StreamKind labels a StreamEvent.
type StreamKind string

const (
	StreamMessage StreamKind = "message"
	StreamError   StreamKind = "error"
)

// StreamEvent is one item of the event socket's CBOR sequence. Dropped
// counts events this watcher lost to a full queue before this one.
type StreamEvent struct {
	Sequence uint64                 `cbor:"1,keyasint" json:"sequence"`
	Kind     StreamKind             `cbor:"2,keyasint" json:"kind"`
	Message  *bridge.InboundMessage `cbor:"3,keyasint,omitempty" json:"message,omitempty"`
	Error    string                 `cbor:"4,keyasint,omitempty" json:"error,omitempty"`
	Dropped  uint64                 `cbor:"5,keyasint,omitempty" json:"dropped,omitempty"`
}
