package bridge

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrAlreadyStarted is returned by Start while a client is connecting or connected.
	ErrAlreadyStarted = errors.New("bridge: already started")
	// ErrStopped is returned by Start when Stop ran before the start completed.
	ErrStopped = errors.New("bridge: stopped during start")
	// ErrNoFactory is returned when a manager has no client factory.
	ErrNoFactory = errors.New("bridge: no client factory configured")
)

// Credentials carries a username and password into a single facade call.
type Credentials struct {
	Username string
	Password string
}

// LogValue keeps passwords out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Bool("password_set", c.Password != ""),
	)
}

// InboundMessage is a chat event pushed by the backend. Method is the
// backend's discriminator and is passed through untouched.
type InboundMessage struct {
	ID     int64  `json:"id" cbor:"1,keyasint"`
	Method int64  `json:"method" cbor:"2,keyasint"`
	Group  int64  `json:"group" cbor:"3,keyasint"`
	From   int64  `json:"from" cbor:"4,keyasint"`
	To     int64  `json:"to" cbor:"5,keyasint"`
	Body   string `json:"body" cbor:"6,keyasint"`
}

// Subscriber receives inbound events from a Router.
type Subscriber interface {
	OnMessage(InboundMessage)
	OnError(string)
}

// SubscriberFuncs adapts plain functions to Subscriber. Nil fields are skipped.
type SubscriberFuncs struct {
	Message func(InboundMessage)
	Error   func(string)
}

func (f SubscriberFuncs) OnMessage(msg InboundMessage) {
	if f.Message != nil {
		f.Message(msg)
	}
}

func (f SubscriberFuncs) OnError(text string) {
	if f.Error != nil {
		f.Error(text)
	}
}

// Sink is handed to a client at creation time. The client calls it from its
// own goroutines to report pushed messages, errors, and loss of connection.
type Sink interface {
	OnRecv(InboundMessage)
	OnError(error)
	OnClosed(reason error)
}

// Client is the underlying network client capability.
type Client interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Register(ctx context.Context, username, password string) (int64, error)
	Login(ctx context.Context, username, password string) (int64, error)
}

// UserFinder is implemented by clients that can search users by name.
type UserFinder interface {
	FindUser(ctx context.Context, username string) ([]int64, error)
}

// Factory creates a client bound to endpoint that reports events to sink.
type Factory func(endpoint string, sink Sink) (Client, error)
