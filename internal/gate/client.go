// Package gate implements bridge.Client for a gateway that speaks JSON
// frames over a WebSocket.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"candybridge/internal/bridge"
	"candybridge/internal/logging"
)

// Options controls dialing and per-call deadlines. Zero durations disable
// the corresponding timeout.
type Options struct {
	DialTimeout time.Duration
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// NewFactory returns a bridge.Factory producing gateway clients.
func NewFactory(opts Options) bridge.Factory {
	return func(endpoint string, sink bridge.Sink) (bridge.Client, error) {
		return New(endpoint, sink, opts)
	}
}

// Client is a gateway connection. It is safe for concurrent calls.
type Client struct {
	endpoint string
	sink     bridge.Sink
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	pending map[string]chan Frame
}

// New validates endpoint and returns an unstarted client.
func New(endpoint string, sink bridge.Sink, opts Options) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("gate: empty endpoint")
	}
	if sink == nil {
		return nil, errors.New("gate: nil sink")
	}
	return &Client{
		endpoint: endpoint,
		sink:     sink,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "gate").With(logging.String(logging.FieldEndpoint, endpoint)),
		pending:  make(map[string]chan Frame),
	}, nil
}

// Start dials the gateway and begins reading frames.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("gate: already started")
	}
	c.mu.Unlock()

	dialCtx := ctx
	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(dialCtx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.readLoop(runCtx, conn, done)
	c.logger.Debug("gateway connected")
	return nil
}

// Stop closes the connection and waits for the read loop to exit. Calling
// Stop on an unstarted client is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	// Clearing c.conn first tells the read loop that this close is ours.
	closeErr := conn.Close(websocket.StatusNormalClosure, "client stop")
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("gate: wait for read loop: %w", ctx.Err())
	}
	if closeErr != nil && !isExpectedDisconnect(closeErr) {
		c.logger.Debug("close handshake incomplete", logging.Error(closeErr))
	}
	return nil
}

// Register creates an account on the gateway.
func (c *Client) Register(ctx context.Context, username, password string) (int64, error) {
	var reply accountReply
	if err := c.call(ctx, methodRegister, credentialsPayload{Username: username, Password: password}, &reply); err != nil {
		return 0, err
	}
	return reply.ID, nil
}

// Login authenticates against the gateway.
func (c *Client) Login(ctx context.Context, username, password string) (int64, error) {
	var reply accountReply
	if err := c.call(ctx, methodLogin, credentialsPayload{Username: username, Password: password}, &reply); err != nil {
		return 0, err
	}
	return reply.ID, nil
}

// FindUser searches users by name.
func (c *Client) FindUser(ctx context.Context, username string) ([]int64, error) {
	var reply findUserReply
	if err := c.call(ctx, methodFindUser, findUserPayload{Username: username}, &reply); err != nil {
		return nil, err
	}
	return reply.IDs, nil
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gate: encode %s: %w", method, err)
	}
	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	replyCh := make(chan Frame, 1)

	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.pending[id] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, conn, Frame{Type: frameRequest, ID: id, Method: method, Data: data}); err != nil {
		return fmt.Errorf("gate: send %s: %w", method, err)
	}

	select {
	case reply := <-replyCh:
		if reply.Error != nil {
			return reply.Error
		}
		if out != nil && len(reply.Data) > 0 {
			if err := json.Unmarshal(reply.Data, out); err != nil {
				return fmt.Errorf("gate: decode %s reply: %w", method, err)
			}
		}
		return nil
	case <-done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("gate: %s: %w", method, ctx.Err())
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			owned := c.conn == conn
			cancel := c.cancel
			if owned {
				c.conn, c.cancel = nil, nil
			}
			c.mu.Unlock()
			if !owned {
				return
			}
			cancel()
			if !isExpectedDisconnect(err) {
				c.logger.Debug("read loop exit", logging.Error(err))
			}
			c.sink.OnClosed(fmt.Errorf("gateway connection lost: %w", err))
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Type {
	case frameResponse:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("dropping response for unknown request", logging.String("request_id", f.ID))
			return
		}
		select {
		case ch <- f:
		default:
		}
	case frameEvent:
		if f.Event != eventMessage {
			c.logger.Debug("ignoring gateway event", logging.String("event", f.Event))
			return
		}
		var msg bridge.InboundMessage
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			c.sink.OnError(fmt.Errorf("gate: decode message event: %w", err))
			return
		}
		c.sink.OnRecv(msg)
	case frameError:
		if f.Error == nil {
			c.sink.OnError(errors.New("gate: unspecified gateway error"))
			return
		}
		c.sink.OnError(f.Error)
	default:
		c.logger.Debug("ignoring unknown frame", logging.String("type", f.Type))
	}
}

func isExpectedDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
