package ipc_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"candybridge/internal/bridge"
	"candybridge/internal/config"
	"candybridge/internal/ipc"
	"candybridge/internal/journal"
	"candybridge/internal/logging"
	"candybridge/internal/service"
	"candybridge/internal/testsupport"
)

type harness struct {
	cfg     *config.Config
	factory *testsupport.FakeFactory
	svc     *service.Service
	journal *journal.Journal
	events  *ipc.EventServer
	client  *ipc.Client
	stopped chan struct{}
}

func newHarness(t *testing.T, factory *testsupport.FakeFactory) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()

	j, err := journal.Open(filepath.Join(cfg.Paths.StateDir, "journal.db"), logger)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	svc, err := service.Open(context.Background(), cfg, factory.New, logger, service.WithSubscriber(j))
	if err != nil {
		t.Fatalf("service.Open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events, err := ipc.NewEventServer(ctx, cfg.EventSocketPath(), svc, 4, logger)
	if err != nil {
		t.Fatalf("NewEventServer: %v", err)
	}
	events.Serve()
	t.Cleanup(events.Close)

	stopped := make(chan struct{})
	var stopOnce sync.Once
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), svc, logger, ipc.ServerOptions{
		History:  j,
		Events:   events,
		Shutdown: func() { stopOnce.Do(func() { close(stopped) }) },
	})
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &harness{cfg: cfg, factory: factory, svc: svc, journal: j, events: events, client: client, stopped: stopped}
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

func TestAccountCallsOverSocket(t *testing.T) {
	h := newHarness(t, &testsupport.FakeFactory{
		Configure: func(c *testsupport.FakeClient) {
			c.LoginID = 42
			c.RegisterErr = errors.New("user exists")
		},
		Finder: true,
		Users:  map[string][]int64{"bob": {7}},
	})

	login, err := h.client.Login("alice", "pw")
	if err != nil {
		t.Fatalf("Login RPC: %v", err)
	}
	if id, ok := login.Result.Identifier(); !login.Result.Succeeded || !ok || id != 42 {
		t.Fatalf("unexpected login result %+v", login.Result)
	}

	reg, err := h.client.Register("alice", "pw")
	if err != nil {
		t.Fatalf("Register RPC: %v", err)
	}
	if reg.Result.Succeeded || reg.Result.ID != nil || !strings.Contains(reg.Result.Error, "user exists") {
		t.Fatalf("unexpected register result %+v", reg.Result)
	}

	search, err := h.client.SearchUser("bob")
	if err != nil {
		t.Fatalf("SearchUser RPC: %v", err)
	}
	if !search.List.Result.Succeeded || len(search.List.IDs) != 1 || search.List.IDs[0] != 7 {
		t.Fatalf("unexpected search %+v", search.List)
	}

	echo, err := h.client.Echo(ipc.EchoRequest{Probe: bridge.Probe{Flag: true, Number: 3, Text: "t", Numbers: []int64{1, 2}}})
	if err != nil {
		t.Fatalf("Echo RPC: %v", err)
	}
	if !echo.Probe.Flag || echo.Probe.Number != 3 || len(echo.Probe.Numbers) != 2 {
		t.Fatalf("unexpected echo %+v", echo.Probe)
	}
}

func TestStatusAndRestart(t *testing.T) {
	h := newHarness(t, &testsupport.FakeFactory{})

	status, err := h.client.Status()
	if err != nil {
		t.Fatalf("Status RPC: %v", err)
	}
	if status.State != "connected" || status.Endpoint != h.cfg.Gate.Endpoint || !status.JournalEnabled {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Subscribers != 1 {
		t.Fatalf("expected journal subscriber only, got %d", status.Subscribers)
	}

	restart, err := h.client.Restart()
	if err != nil {
		t.Fatalf("Restart RPC: %v", err)
	}
	if !restart.Result.Succeeded || restart.State != "connected" {
		t.Fatalf("unexpected restart %+v", restart)
	}
	if n := len(h.factory.Clients()); n != 2 {
		t.Fatalf("expected a second client after restart, got %d", n)
	}
}

func TestNotConnectedResultsOverSocket(t *testing.T) {
	h := newHarness(t, &testsupport.FakeFactory{Configure: func(c *testsupport.FakeClient) {
		c.StartErr = errors.New("refused")
	}})

	login, err := h.client.Login("alice", "pw")
	if err != nil {
		t.Fatalf("Login RPC: %v", err)
	}
	if login.Result.Succeeded || !strings.Contains(login.Result.Error, "state=failed") {
		t.Fatalf("unexpected login result %+v", login.Result)
	}
	restart, err := h.client.Restart()
	if err != nil {
		t.Fatalf("Restart RPC: %v", err)
	}
	if restart.Result.Succeeded || restart.State != "failed" {
		t.Fatalf("unexpected restart %+v", restart)
	}
}

func TestWatchStreamsEventsAndHistory(t *testing.T) {
	h := newHarness(t, &testsupport.FakeFactory{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []ipc.StreamEvent
	done := make(chan error, 1)
	go func() {
		done <- ipc.Watch(ctx, h.cfg.EventSocketPath(), func(ev ipc.StreamEvent) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		})
	}()
	waitFor(t, "watcher registration", func() bool { return h.events.Watchers() == 1 })

	client := h.factory.Latest()
	want := bridge.InboundMessage{ID: 1, Method: 2, Group: 3, From: 4, To: 5, Body: "hi"}
	client.Push(want)
	client.PushError(errors.New("rate limited"))

	waitFor(t, "streamed events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	first, second := got[0], got[1]
	mu.Unlock()
	if first.Kind != ipc.StreamMessage || first.Message == nil || *first.Message != want || first.Sequence != 1 {
		t.Fatalf("unexpected first event %+v", first)
	}
	if second.Kind != ipc.StreamError || second.Error != "rate limited" || second.Sequence != 2 {
		t.Fatalf("unexpected second event %+v", second)
	}

	history, err := h.client.History(10)
	if err != nil {
		t.Fatalf("History RPC: %v", err)
	}
	if !history.Enabled || len(history.Entries) != 2 {
		t.Fatalf("unexpected history %+v", history)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned %v", err)
	}
	waitFor(t, "watcher removal", func() bool { return h.events.Watchers() == 0 })
}

func TestShutdownInvokesCallback(t *testing.T) {
	h := newHarness(t, &testsupport.FakeFactory{})

	resp, err := h.client.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown RPC: %v", err)
	}
	if !resp.Accepted || resp.PID == 0 {
		t.Fatalf("unexpected shutdown response %+v", resp)
	}
	select {
	case <-h.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}
