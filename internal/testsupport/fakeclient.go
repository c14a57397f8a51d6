package testsupport

import (
	"context"
	"errors"
	"sync"

	"candybridge/internal/bridge"
)

// FakeClient is a scripted bridge.Client. Set the exported fields before the
// client is started; counters are safe to read concurrently.
type FakeClient struct {
	Endpoint string

	StartErr    error
	StopErr     error
	StartHook   func(ctx context.Context) error
	StopHook    func()
	RegisterID  int64
	RegisterErr error
	LoginID     int64
	LoginErr    error
	PanicOn     string

	mu     sync.Mutex
	sink   bridge.Sink
	starts int
	stops  int
	calls  []string
}

// FinderClient is a FakeClient that also supports user search.
type FinderClient struct {
	*FakeClient
	Users   map[string][]int64
	FindErr error
}

// FindUser returns the scripted IDs for username.
func (c *FinderClient) FindUser(_ context.Context, username string) ([]int64, error) {
	c.record("find:" + username)
	if c.FindErr != nil {
		return nil, c.FindErr
	}
	return c.Users[username], nil
}

func (c *FakeClient) Start(ctx context.Context) error {
	c.mu.Lock()
	c.starts++
	hook := c.StartHook
	c.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return c.StartErr
}

func (c *FakeClient) Stop(context.Context) error {
	c.mu.Lock()
	c.stops++
	hook := c.StopHook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.StopErr
}

func (c *FakeClient) Register(_ context.Context, username, _ string) (int64, error) {
	c.record("register:" + username)
	if c.PanicOn == "register" {
		panic("register exploded")
	}
	if c.RegisterErr != nil {
		return 0, c.RegisterErr
	}
	return c.RegisterID, nil
}

func (c *FakeClient) Login(_ context.Context, username, _ string) (int64, error) {
	c.record("login:" + username)
	if c.PanicOn == "login" {
		panic("login exploded")
	}
	if c.LoginErr != nil {
		return 0, c.LoginErr
	}
	return c.LoginID, nil
}

// Push delivers msg through the client's sink as the backend would.
func (c *FakeClient) Push(msg bridge.InboundMessage) {
	c.currentSink().OnRecv(msg)
}

// PushError reports an asynchronous error through the sink.
func (c *FakeClient) PushError(err error) {
	c.currentSink().OnError(err)
}

// Drop simulates the connection closing underneath the client.
func (c *FakeClient) Drop(reason string) {
	c.currentSink().OnClosed(errors.New(reason))
}

// Starts reports how many times Start was called.
func (c *FakeClient) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Stops reports how many times Stop was called.
func (c *FakeClient) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Calls lists account and search calls in order.
func (c *FakeClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *FakeClient) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *FakeClient) currentSink() bridge.Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

// FakeFactory builds FakeClients and remembers every client it created.
type FakeFactory struct {
	// Configure runs on each new client before it is returned.
	Configure func(*FakeClient)
	// Finder makes created clients implement bridge.UserFinder.
	Finder bool
	Users  map[string][]int64
	// Err makes creation fail. When ErrClient is set too, the partially
	// built client is returned alongside the error.
	Err       error
	ErrClient bool

	mu      sync.Mutex
	clients []*FakeClient
}

// New satisfies bridge.Factory.
func (f *FakeFactory) New(endpoint string, sink bridge.Sink) (bridge.Client, error) {
	client := &FakeClient{Endpoint: endpoint, sink: sink}
	if f.Configure != nil {
		f.Configure(client)
	}
	f.mu.Lock()
	f.clients = append(f.clients, client)
	f.mu.Unlock()

	if f.Err != nil {
		if f.ErrClient {
			return client, f.Err
		}
		return nil, f.Err
	}
	if f.Finder {
		return &FinderClient{FakeClient: client, Users: f.Users}, nil
	}
	return client, nil
}

// Clients returns every client created so far.
func (f *FakeFactory) Clients() []*FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeClient(nil), f.clients...)
}

// Latest returns the most recently created client or nil.
func (f *FakeFactory) Latest() *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}
