package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateGate(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateGate() error {
	endpoint := strings.TrimSpace(c.Gate.Endpoint)
	if endpoint == "" {
		return errors.New("gate.endpoint must be set (or export CANDY_ENDPOINT)")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("gate.endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("gate.endpoint: unsupported scheme %q (expected ws or wss)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("gate.endpoint must include a host")
	}
	return ensurePositiveMap(map[string]int{
		"gate.dial_timeout": c.Gate.DialTimeout,
		"gate.call_timeout": c.Gate.CallTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive (seconds)", key)
		}
	}
	return nil
}
