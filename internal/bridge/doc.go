// Package bridge adapts an asynchronous chat-backend client into a
// connection manager with explicit lifecycle states, a blocking request
// facade that always returns a Result, and a router that fans inbound events
// out to subscribers.
package bridge
