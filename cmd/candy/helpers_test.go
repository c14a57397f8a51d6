package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"candybridge/internal/config"
	"candybridge/internal/daemonrun"
	"candybridge/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	factory    *testsupport.FakeFactory
	configPath string
}

// setupCLITestEnv runs a daemon in-process against a fake gateway and
// writes a matching config file for the CLI to load.
func setupCLITestEnv(t *testing.T, factory *testsupport.FakeFactory) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithJournal())
	cfg.Logging.Format = "json"

	configPath := filepath.Join(cfg.Paths.StateDir, "config.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			Factory: factory.New,
			Ready:   func() { close(ready) },
		})
	}()
	select {
	case <-ready:
	case err := <-done:
		cancel()
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon did not become ready")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	return &cliTestEnv{cfg: cfg, factory: factory, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath}, args...))
}

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}
