package gate_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"candybridge/internal/bridge"
	"candybridge/internal/gate"
	"candybridge/internal/logging"
)

// fakeGateway answers account requests and lets tests push frames.
type fakeGateway struct {
	t      *testing.T
	server *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
	users map[string]int64
	// silent methods never get a response.
	silent map[string]bool
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, users: map[string]int64{}, silent: map[string]bool{}}
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) endpoint() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.mu.Unlock()

	ctx := r.Context()
	for {
		var req gate.Frame
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		if req.Type != "request" {
			continue
		}
		g.mu.Lock()
		silent := g.silent[req.Method]
		g.mu.Unlock()
		if silent {
			continue
		}
		_ = wsjson.Write(ctx, conn, g.answer(req))
	}
}

func (g *fakeGateway) answer(req gate.Frame) gate.Frame {
	g.mu.Lock()
	defer g.mu.Unlock()
	resp := gate.Frame{Type: "response", ID: req.ID}
	switch req.Method {
	case "register", "login":
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.Unmarshal(req.Data, &creds)
		id, exists := g.users[creds.Username]
		switch {
		case req.Method == "register" && exists:
			resp.Error = &gate.RemoteError{Code: "conflict", Message: "user exists"}
		case req.Method == "register":
			id = int64(len(g.users) + 41)
			g.users[creds.Username] = id
			resp.Data = mustJSON(g.t, map[string]int64{"id": id})
		case !exists:
			resp.Error = &gate.RemoteError{Code: "not_found", Message: "no such user"}
		default:
			resp.Data = mustJSON(g.t, map[string]int64{"id": id})
		}
	case "find_user":
		var q struct {
			Username string `json:"username"`
		}
		_ = json.Unmarshal(req.Data, &q)
		ids := []int64{}
		if id, ok := g.users[q.Username]; ok {
			ids = append(ids, id)
		}
		resp.Data = mustJSON(g.t, map[string][]int64{"ids": ids})
	default:
		resp.Error = &gate.RemoteError{Code: "bad_request", Message: "unknown method"}
	}
	return resp
}

func (g *fakeGateway) push(f gate.Frame) {
	g.mu.Lock()
	conns := append([]*websocket.Conn(nil), g.conns...)
	g.mu.Unlock()
	for _, c := range conns {
		if err := wsjson.Write(context.Background(), c, f); err != nil {
			g.t.Fatalf("push frame: %v", err)
		}
	}
}

func (g *fakeGateway) dropAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		_ = c.CloseNow()
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

type sinkRecorder struct {
	mu       sync.Mutex
	messages []bridge.InboundMessage
	errors   []error
	closed   []error
}

func (s *sinkRecorder) OnRecv(msg bridge.InboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *sinkRecorder) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

func (s *sinkRecorder) OnClosed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, err)
}

func (s *sinkRecorder) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), len(s.errors), len(s.closed)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startClient(t *testing.T, g *fakeGateway, sink bridge.Sink, callTimeout time.Duration) *gate.Client {
	t.Helper()
	client, err := gate.New(g.endpoint(), sink, gate.Options{
		DialTimeout: time.Second,
		CallTimeout: callTimeout,
		Logger:      logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = client.Stop(context.Background()) })
	return client
}

func TestRegisterLoginAndFind(t *testing.T) {
	g := newFakeGateway(t)
	client := startClient(t, g, &sinkRecorder{}, time.Second)
	ctx := context.Background()

	id, err := client.Register(ctx, "alice", "pw")
	if err != nil || id != 41 {
		t.Fatalf("Register = %d, %v", id, err)
	}
	if _, err := client.Register(ctx, "alice", "pw"); err == nil || !strings.Contains(err.Error(), "user exists") {
		t.Fatalf("expected user exists, got %v", err)
	}
	var remote *gate.RemoteError
	if _, err := client.Login(ctx, "bob", "pw"); !errors.As(err, &remote) || remote.Code != "not_found" {
		t.Fatalf("expected remote not_found, got %v", err)
	}
	if got, err := client.Login(ctx, "alice", "pw"); err != nil || got != 41 {
		t.Fatalf("Login = %d, %v", got, err)
	}
	ids, err := client.FindUser(ctx, "alice")
	if err != nil || len(ids) != 1 || ids[0] != 41 {
		t.Fatalf("FindUser = %v, %v", ids, err)
	}
}

func TestCallTimeout(t *testing.T) {
	g := newFakeGateway(t)
	g.silent["login"] = true
	client := startClient(t, g, &sinkRecorder{}, 50*time.Millisecond)

	_, err := client.Login(context.Background(), "alice", "pw")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCallBeforeStart(t *testing.T) {
	client, err := gate.New("ws://127.0.0.1:1/gate", &sinkRecorder{}, gate.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Login(context.Background(), "a", "b"); !errors.Is(err, gate.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on unstarted client: %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	client, err := gate.New("ws://127.0.0.1:1/gate", &sinkRecorder{}, gate.Options{DialTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Start(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestPushedEventsReachSink(t *testing.T) {
	g := newFakeGateway(t)
	sink := &sinkRecorder{}
	startClient(t, g, sink, time.Second)
	waitFor(t, "gateway connection", func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.conns) == 1
	})

	g.push(gate.Frame{Type: "event", Event: "message", Data: mustJSON(t, bridge.InboundMessage{ID: 1, Method: 2, Group: 3, From: 4, To: 5, Body: "hi"})})
	g.push(gate.Frame{Type: "event", Event: "typing"})
	g.push(gate.Frame{Type: "error", Error: &gate.RemoteError{Code: "rate_limited", Message: "slow down"}})

	waitFor(t, "sink events", func() bool {
		m, e, _ := sink.counts()
		return m == 1 && e == 1
	})
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.messages[0].Body != "hi" || sink.messages[0].To != 5 {
		t.Fatalf("unexpected message %+v", sink.messages[0])
	}
	if !strings.Contains(sink.errors[0].Error(), "slow down") {
		t.Fatalf("unexpected error %v", sink.errors[0])
	}
}

func TestConnectionLossReportsClosed(t *testing.T) {
	g := newFakeGateway(t)
	sink := &sinkRecorder{}
	client := startClient(t, g, sink, time.Second)
	waitFor(t, "gateway connection", func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.conns) == 1
	})

	g.dropAll()
	waitFor(t, "closed notification", func() bool {
		_, _, c := sink.counts()
		return c == 1
	})
	if _, err := client.Login(context.Background(), "a", "b"); !errors.Is(err, gate.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted after loss, got %v", err)
	}
}

func TestStopDoesNotReportClosed(t *testing.T) {
	g := newFakeGateway(t)
	sink := &sinkRecorder{}
	client := startClient(t, g, sink, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := client.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, _, c := sink.counts(); c != 0 {
		t.Fatalf("Stop must not report a closed connection, got %d", c)
	}
}

func TestFactoryDrivesManager(t *testing.T) {
	g := newFakeGateway(t)
	m := bridge.NewManager(gate.NewFactory(gate.Options{DialTimeout: time.Second, CallTimeout: time.Second}), logging.NewNop())
	if err := m.Start(context.Background(), g.endpoint(), bridge.NewRouter(nil)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	f := bridge.NewFacade(m, nil)
	if res := f.Register(context.Background(), bridge.Credentials{Username: "carol", Password: "pw"}); !res.Succeeded {
		t.Fatalf("register failed: %+v", res)
	}
	list := f.SearchUser(context.Background(), "carol")
	if !list.Result.Succeeded || len(list.IDs) != 1 {
		t.Fatalf("search failed: %+v", list)
	}
}
