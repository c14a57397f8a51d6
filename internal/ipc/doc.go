// Package ipc exposes the candy service over Unix domain sockets and ships
// the matching clients used by the CLI.
//
// Account operations, status, restart and history travel as JSON-RPC on the
// control socket under the "Candy" service name. Inbound chat events travel
// on a separate event socket as a CBOR sequence of StreamEvent values; every
// connected watcher is a router subscriber with its own bounded queue, so a
// slow watcher loses events for itself without stalling delivery to others.
package ipc
