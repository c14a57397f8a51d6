package bridge

import (
	"errors"
	"sync"
)

type eventKind int

const (
	eventMessage eventKind = iota
	eventError
	eventClosed
)

type event struct {
	kind eventKind
	msg  InboundMessage
	err  error
}

// session is the Sink handed to one client. Callbacks enqueue into a bounded
// inbox drained by a single pump goroutine, so the router sees events in the
// order the client produced them. A full inbox blocks the producer until the
// pump catches up or the session closes.
type session struct {
	manager *Manager
	router  *Router
	inbox   chan event
	done    chan struct{}
	once    sync.Once

	// lost holds the closure reason when the connection dropped while this
	// session was current. Guarded by manager.mu.
	lost string
}

func newSession(m *Manager, router *Router, size int) *session {
	return &session{
		manager: m,
		router:  router,
		inbox:   make(chan event, size),
		done:    make(chan struct{}),
	}
}

func (s *session) OnRecv(msg InboundMessage) {
	s.send(event{kind: eventMessage, msg: msg})
}

func (s *session) OnError(err error) {
	if err == nil {
		return
	}
	s.send(event{kind: eventError, err: err})
}

func (s *session) OnClosed(reason error) {
	if reason == nil {
		reason = errors.New("connection closed")
	}
	s.send(event{kind: eventClosed, err: reason})
}

func (s *session) send(ev event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.inbox <- ev:
	case <-s.done:
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *session) pump() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.inbox:
			switch ev.kind {
			case eventMessage:
				s.router.DeliverMessage(ev.msg)
			case eventError:
				s.manager.recordError(s, ev.err)
				s.router.DeliverError(ev.err.Error())
			case eventClosed:
				s.manager.connectionLost(s, ev.err)
			}
		}
	}
}
