package bridge_test

import (
	"sync"
	"testing"
	"time"

	"candybridge/internal/bridge"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recorder struct {
	mu       sync.Mutex
	messages []bridge.InboundMessage
	errors   []string
}

func (r *recorder) OnMessage(msg bridge.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) OnError(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, text)
}

func (r *recorder) Messages() []bridge.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bridge.InboundMessage(nil), r.messages...)
}

func (r *recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
