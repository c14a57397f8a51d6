package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"candybridge/internal/bridge"
	"candybridge/internal/logging"
	"candybridge/internal/service"
	"candybridge/internal/testsupport"
)

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

type collector struct {
	mu   sync.Mutex
	msgs []bridge.InboundMessage
	errs []string
}

func (c *collector) OnMessage(m bridge.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) OnError(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, text)
}

func (c *collector) messages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestOpenStartsAndCloseStopsOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	factory := &testsupport.FakeFactory{Configure: func(c *testsupport.FakeClient) { c.LoginID = 42 }}
	sub := &collector{}

	svc, err := service.Open(context.Background(), cfg, factory.New, logging.NewNop(), service.WithSubscriber(sub))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if svc.State() != bridge.StateConnected {
		t.Fatalf("expected connected, got %s", svc.State())
	}
	status := svc.Status()
	if status.Endpoint != cfg.Gate.Endpoint || status.Subscribers != 1 || status.PID == 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	res := svc.Login(context.Background(), bridge.Credentials{Username: "alice", Password: "pw"})
	if id, ok := res.Identifier(); !res.Succeeded || !ok || id != 42 {
		t.Fatalf("unexpected login result %+v", res)
	}

	factory.Latest().Push(bridge.InboundMessage{ID: 1, Body: "hi"})
	waitFor(t, "subscriber delivery", func() bool { return sub.messages() == 1 })

	for range 3 {
		if err := svc.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if stops := factory.Latest().Stops(); stops != 1 {
		t.Fatalf("client stopped %d times", stops)
	}
	if svc.State() != bridge.StateDisconnected {
		t.Fatalf("expected disconnected after close, got %s", svc.State())
	}
	if res := svc.Login(context.Background(), bridge.Credentials{Username: "alice"}); res.Succeeded {
		t.Fatal("login after close should fail")
	}
	if err := svc.Restart(context.Background()); !errors.Is(err, service.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenWithFailingClientStaysOpen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	factory := &testsupport.FakeFactory{Configure: func(c *testsupport.FakeClient) {
		c.StartErr = errors.New("connection refused")
	}}

	svc, err := service.Open(context.Background(), cfg, factory.New, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	if svc.State() != bridge.StateFailed {
		t.Fatalf("expected failed, got %s", svc.State())
	}
	if !strings.Contains(svc.Status().LastError, "connection refused") {
		t.Fatalf("expected last error in status, got %+v", svc.Status())
	}
	res := svc.Register(context.Background(), bridge.Credentials{Username: "alice", Password: "pw"})
	if res.Succeeded || !strings.Contains(res.Error, "not connected") {
		t.Fatalf("expected not-connected failure, got %+v", res)
	}

	factory.Configure = nil
	if err := svc.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if svc.State() != bridge.StateConnected {
		t.Fatalf("expected connected after restart, got %s", svc.State())
	}
}

func TestSecondInstanceIsLocked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	factory := &testsupport.FakeFactory{}

	first, err := service.Open(context.Background(), cfg, factory.New, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := service.Open(context.Background(), cfg, factory.New, nil); !errors.Is(err, service.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := service.Open(context.Background(), cfg, factory.New, nil)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = second.Close()
}

func TestOpenRequiresFactory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := service.Open(context.Background(), cfg, nil, nil); !errors.Is(err, bridge.ErrNoFactory) {
		t.Fatalf("expected ErrNoFactory, got %v", err)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	factory := &testsupport.FakeFactory{}
	svc, err := service.Open(context.Background(), cfg, factory.New, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	sub := &collector{}
	handle := svc.Subscribe(sub)
	factory.Latest().Push(bridge.InboundMessage{ID: 1})
	waitFor(t, "first delivery", func() bool { return sub.messages() == 1 })

	svc.Unsubscribe(handle)
	svc.Unsubscribe(bridge.Subscription{})
	if svc.Status().Subscribers != 0 {
		t.Fatalf("expected no subscribers, got %d", svc.Status().Subscribers)
	}
}

func TestReconnectSupervisorRecoversLostConnection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	factory := &testsupport.FakeFactory{}
	svc, err := service.Open(context.Background(), cfg, factory.New, logging.NewNop(),
		service.WithReconnectInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	factory.Latest().Drop("gateway restarted")
	waitFor(t, "reconnect", func() bool {
		return len(factory.Clients()) >= 2 && svc.State() == bridge.StateConnected
	})
}

func TestCloseDuringRestartLeavesNoClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stopping := make(chan struct{})
	release := make(chan struct{})
	var created int
	factory := &testsupport.FakeFactory{}
	factory.Configure = func(c *testsupport.FakeClient) {
		created++
		if created == 1 {
			c.StopHook = func() {
				close(stopping)
				<-release
			}
		}
	}
	svc, err := service.Open(context.Background(), cfg, factory.New, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	restarted := make(chan error, 1)
	go func() { restarted <- svc.Restart(context.Background()) }()
	<-stopping

	closed := make(chan struct{})
	go func() {
		_ = svc.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while Restart was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	if err := <-restarted; err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if state := svc.State(); state != bridge.StateDisconnected {
		t.Fatalf("expected disconnected after Close, got %s", state)
	}
	for i, c := range factory.Clients() {
		if c.Starts() > c.Stops() {
			t.Fatalf("client %d still live after Close (starts=%d stops=%d)", i, c.Starts(), c.Stops())
		}
	}
}

func TestEchoRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc, err := service.Open(context.Background(), cfg, (&testsupport.FakeFactory{}).New, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	out := svc.Echo(bridge.Probe{Flag: true, Number: 7, Text: "x", Numbers: []int64{1}})
	if !out.Flag || out.Number != 7 || out.Text != "x" || len(out.Numbers) != 1 {
		t.Fatalf("unexpected echo %+v", out)
	}
}
