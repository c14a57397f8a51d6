// Package config loads, normalizes, and validates candybridge configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the CANDY_ENDPOINT environment
// fallback for the gateway address. The Config value is built once per
// process and passed to every component that needs it; nothing in the
// repository reads settings from package-level state.
package config
