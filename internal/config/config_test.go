package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"candybridge/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CANDY_ENDPOINT", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "candy", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "candy")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.LogDir != filepath.Join(wantState, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Journal.Path != filepath.Join(wantState, "journal.db") {
		t.Fatalf("unexpected journal path: %q", cfg.Journal.Path)
	}
	if cfg.Gate.Endpoint != config.Default().Gate.Endpoint {
		t.Fatalf("unexpected endpoint: %q", cfg.Gate.Endpoint)
	}
	if cfg.SocketPath() != filepath.Join(wantState, "candy.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
	if cfg.ReconnectInterval() != 0 {
		t.Fatalf("expected reconnect disabled by default, got %s", cfg.ReconnectInterval())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist", dir)
		}
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CANDY_ENDPOINT", "")

	configPath := filepath.Join(tempHome, "custom.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"state_dir": "~/state",
		},
		"gate": map[string]any{
			"endpoint":           "wss://chat.example.com/gate",
			"call_timeout":       9,
			"reconnect_interval": 3,
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected existing config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Gate.Endpoint != "wss://chat.example.com/gate" {
		t.Fatalf("unexpected endpoint: %q", cfg.Gate.Endpoint)
	}
	if cfg.CallTimeout() != 9*time.Second {
		t.Fatalf("unexpected call timeout: %s", cfg.CallTimeout())
	}
	if cfg.ReconnectInterval() != 3*time.Second {
		t.Fatalf("unexpected reconnect interval: %s", cfg.ReconnectInterval())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging settings, got %+v", cfg.Logging)
	}
}

func TestEnvironmentOverridesEndpoint(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CANDY_ENDPOINT", "ws://10.0.0.5:9000/gate")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gate.Endpoint != "ws://10.0.0.5:9000/gate" {
		t.Fatalf("expected endpoint from env, got %q", cfg.Gate.Endpoint)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CANDY_ENDPOINT", "")

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "bad scheme",
			body:    "[gate]\nendpoint = \"ftp://example.com\"\n",
			wantErr: "unsupported scheme",
		},
		{
			name:    "zero call timeout",
			body:    "[gate]\ncall_timeout = 0\n",
			wantErr: "gate.call_timeout must be positive",
		},
		{
			name:    "bad log format",
			body:    "[logging]\nformat = \"xml\"\n",
			wantErr: "logging.format",
		},
		{
			name:    "unknown key",
			body:    "[gate]\nendpont = \"ws://x\"\n",
			wantErr: "parse config",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CANDY_ENDPOINT", "")

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if !cfg.Journal.Enabled {
		t.Fatal("expected journal enabled in sample config")
	}
}
