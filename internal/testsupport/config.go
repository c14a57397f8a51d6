package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"candybridge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a fresh temp directory per test.
// The directory lives under os.TempDir with a short name so Unix socket
// paths stay below the platform limit.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base, err := os.MkdirTemp("", "candy")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(base) })

	cfgVal := config.Default()
	cfgVal.Paths.StateDir = base
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Journal.Path = filepath.Join(base, "journal.db")
	cfgVal.Journal.Enabled = false
	cfgVal.Gate.Endpoint = "ws://127.0.0.1:1/gate"
	cfgVal.Gate.CallTimeout = 2
	cfgVal.Gate.DialTimeout = 2

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithEndpoint overrides the gateway endpoint.
func WithEndpoint(endpoint string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Gate.Endpoint = endpoint
	}
}

// WithReconnectInterval enables the reconnect supervisor.
func WithReconnectInterval(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Gate.ReconnectInterval = seconds
	}
}

// WithJournal turns the event journal on.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = true
	}
}

// BaseDir returns the temp directory backing cfg.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.StateDir
}
