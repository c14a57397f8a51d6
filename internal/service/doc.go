// Package service owns one bridge connection for the lifetime of the daemon.
//
// Opening a service takes the single-instance lock, builds the router,
// manager and facade, attaches configured subscribers, and starts the client.
// A start failure leaves the service open in the failed state so callers
// still receive well-formed results. Closing stops the client exactly once
// and releases the lock.
//
// The optional reconnect supervisor is the only retry policy in the system;
// the manager itself never retries.
package service
