package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"candybridge/internal/daemonrun"
	"candybridge/internal/ipc"
	"candybridge/internal/testsupport"
)

func TestRunServesUntilShutdown(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithJournal())
	cfg.Logging.Format = "json"
	factory := &testsupport.FakeFactory{Configure: func(c *testsupport.FakeClient) { c.LoginID = 42 }}

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(context.Background(), cfg, daemonrun.Options{
			Factory: factory.New,
			Ready:   func() { close(ready) },
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	data, err := os.ReadFile(cfg.PIDPath())
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if pid, _ := strconv.Atoi(strings.TrimSpace(string(data))); pid != os.Getpid() {
		t.Fatalf("unexpected pid file contents %q", data)
	}

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	login, err := client.Login("alice", "pw")
	if err != nil {
		t.Fatalf("Login RPC: %v", err)
	}
	if id, ok := login.Result.Identifier(); !ok || id != 42 {
		t.Fatalf("unexpected login %+v", login.Result)
	}
	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC: %v", err)
	}
	if !status.JournalEnabled || status.State != "connected" {
		t.Fatalf("unexpected status %+v", status)
	}

	if _, err := client.Shutdown(); err != nil {
		t.Fatalf("Shutdown RPC: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if _, err := os.Stat(cfg.PIDPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file removal, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "candyd.log")); err != nil {
		t.Fatalf("expected daemon log: %v", err)
	}
	if got := factory.Latest().Stops(); got != 1 {
		t.Fatalf("expected client stopped once, got %d", got)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}
