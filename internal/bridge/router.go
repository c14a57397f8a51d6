package bridge

import (
	"fmt"
	"log/slog"
	"sync"

	"candybridge/internal/logging"
)

// Subscription identifies a registered subscriber. The zero value is not
// registered and is ignored by Unsubscribe.
type Subscription struct {
	id uint64
}

// ID returns the numeric handle, zero when unregistered.
func (s Subscription) ID() uint64 { return s.id }

type subscriberEntry struct {
	id  uint64
	sub Subscriber
}

// Router fans inbound events out to subscribers. Deliveries take a snapshot
// of the subscriber set and call each subscriber without holding the lock,
// so Subscribe and Unsubscribe never wait on a slow callback.
type Router struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriberEntry
}

// NewRouter returns an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Router{logger: logger}
}

// Subscribe registers sub and returns its handle. A nil subscriber is ignored.
func (r *Router) Subscribe(sub Subscriber) Subscription {
	if sub == nil {
		return Subscription{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs = append(r.subs, subscriberEntry{id: r.nextID, sub: sub})
	return Subscription{id: r.nextID}
}

// Unsubscribe removes the subscriber registered under s. A delivery that has
// already taken its snapshot may still reach it.
func (r *Router) Unsubscribe(s Subscription) {
	if s.id == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.subs {
		if entry.id == s.id {
			next := make([]subscriberEntry, 0, len(r.subs)-1)
			next = append(next, r.subs[:i]...)
			r.subs = append(next, r.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered subscribers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// DeliverMessage hands msg to every current subscriber in registration order.
func (r *Router) DeliverMessage(msg InboundMessage) {
	for _, entry := range r.snapshot() {
		r.call(entry, "message", func() { entry.sub.OnMessage(msg) })
	}
}

// DeliverError hands text to every current subscriber in registration order.
func (r *Router) DeliverError(text string) {
	for _, entry := range r.snapshot() {
		r.call(entry, "error", func() { entry.sub.OnError(text) })
	}
}

// snapshot returns the current slice. Unsubscribe replaces the slice instead
// of editing it in place, so the returned value is safe to range without the lock.
func (r *Router) snapshot() []subscriberEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs
}

func (r *Router) call(entry subscriberEntry, kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.WarnWithContext(r.logger, "subscriber panicked during delivery", "subscriber_fault",
				logging.Uint64(logging.FieldSubscription, entry.id),
				logging.String("delivery", kind),
				logging.String("panic", fmt.Sprint(rec)),
				logging.String(logging.FieldErrorHint, "fix the subscriber callback"),
				logging.String(logging.FieldImpact, "this subscriber missed one event; others were unaffected"),
			)
		}
	}()
	fn()
}
