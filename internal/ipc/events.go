package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"candybridge/internal/bridge"
	"candybridge/internal/codec"
	"candybridge/internal/logging"
)

const defaultWatcherBuffer = 256

// Subscribable is the part of the service the event server needs.
type Subscribable interface {
	Subscribe(bridge.Subscriber) bridge.Subscription
	Unsubscribe(bridge.Subscription)
}

// EventServer streams inbound events to watchers on a Unix socket.
type EventServer struct {
	path     string
	source   Subscribable
	logger   *slog.Logger
	buffer   int
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

// NewEventServer listens on path. buffer bounds each watcher's queue.
func NewEventServer(ctx context.Context, path string, source Subscribable, buffer int, logger *slog.Logger) (*EventServer, error) {
	if source == nil {
		return nil, errors.New("event server requires a subscription source")
	}
	if buffer <= 0 {
		buffer = defaultWatcherBuffer
	}
	logger = logging.NewComponentLogger(logger, "events")

	removeSocket(logger, path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on event socket: %w", err)
	}
	serverCtx, cancel := context.WithCancel(ctx)
	return &EventServer{
		path:     path,
		source:   source,
		logger:   logger,
		buffer:   buffer,
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
		watchers: make(map[*watcher]struct{}),
	}, nil
}

// Serve accepts watchers until Close is called.
func (s *EventServer) Serve() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Debug("event accept failed", logging.Error(err))
				continue
			}
			w := newWatcher(conn, s.buffer)
			s.mu.Lock()
			s.watchers[w] = struct{}{}
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.run(w)
			}()
		}
	}()
}

// Watchers returns the number of connected watchers.
func (s *EventServer) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// Close disconnects all watchers and removes the socket.
func (s *EventServer) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.mu.Lock()
	for w := range s.watchers {
		w.close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	removeSocket(s.logger, s.path)
}

func (s *EventServer) run(w *watcher) {
	handle := s.source.Subscribe(w)
	logger := s.logger.With(logging.Uint64(logging.FieldSubscription, handle.ID()))
	logger.Debug("watcher connected")
	defer func() {
		s.source.Unsubscribe(handle)
		w.close()
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
		logger.Debug("watcher disconnected", logging.Uint64("dropped", w.dropped.Load()))
	}()

	// Watchers never send; a read returning means the peer hung up.
	go func() {
		_, _ = io.Copy(io.Discard, w.conn)
		w.close()
	}()

	enc := codec.NewEncoder(w.conn)
	for {
		select {
		case <-w.done:
			return
		case <-s.ctx.Done():
			return
		case ev := <-w.queue:
			_ = w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := enc.Encode(ev); err != nil {
				logger.Debug("watcher write failed", logging.Error(err))
				return
			}
		}
	}
}

// watcher is a router subscriber that never blocks delivery.
type watcher struct {
	conn    net.Conn
	queue   chan StreamEvent
	done    chan struct{}
	once    sync.Once
	seq     atomic.Uint64
	dropped atomic.Uint64
	pending atomic.Uint64
}

func newWatcher(conn net.Conn, buffer int) *watcher {
	return &watcher{
		conn:  conn,
		queue: make(chan StreamEvent, buffer),
		done:  make(chan struct{}),
	}
}

func (w *watcher) OnMessage(msg bridge.InboundMessage) {
	w.offer(StreamEvent{Kind: StreamMessage, Message: &msg})
}

func (w *watcher) OnError(text string) {
	w.offer(StreamEvent{Kind: StreamError, Error: text})
}

func (w *watcher) offer(ev StreamEvent) {
	ev.Sequence = w.seq.Add(1)
	ev.Dropped = w.pending.Load()
	select {
	case w.queue <- ev:
		w.pending.Store(0)
	default:
		w.pending.Add(1)
		w.dropped.Add(1)
	}
}

func (w *watcher) close() {
	w.once.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
}

// Watch connects to the event socket at path and calls fn for each event
// until ctx is canceled or the daemon closes the stream.
func Watch(ctx context.Context, path string, fn func(StreamEvent)) error {
	var dialer net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	conn, err := dialer.DialContext(dialCtx, "unix", path)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	dec := codec.NewDecoder(conn)
	for {
		var ev StreamEvent
		if err := dec.Decode(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("decode event: %w", err)
		}
		fn(ev)
	}
}
