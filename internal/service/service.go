package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"candybridge/internal/bridge"
	"candybridge/internal/config"
	"candybridge/internal/logging"
)

var (
	// ErrLocked means another daemon holds the instance lock.
	ErrLocked = errors.New("another candy daemon instance is already running")
	// ErrClosed is returned by operations on a closed service.
	ErrClosed = errors.New("service closed")
)

// Status is a snapshot of the service for the CLI.
type Status struct {
	State       string
	Endpoint    string
	LastError   string
	ConnectedAt time.Time
	Subscribers int
	PID         int
	LockPath    string
	Reconnect   time.Duration
}

// Option customizes Open.
type Option func(*options)

type options struct {
	subscribers []bridge.Subscriber
	reconnect   *time.Duration
}

// WithSubscriber attaches sub to the router before the client starts.
func WithSubscriber(sub bridge.Subscriber) Option {
	return func(o *options) {
		if sub != nil {
			o.subscribers = append(o.subscribers, sub)
		}
	}
}

// WithReconnectInterval overrides gate.reconnect_interval. Zero disables the supervisor.
func WithReconnectInterval(d time.Duration) Option {
	return func(o *options) {
		o.reconnect = &d
	}
}

// Service is the IPC-facing owner of a bridge.Manager.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *bridge.Router
	manager *bridge.Manager
	facade  *bridge.Facade

	lock      *flock.Flock
	reconnect time.Duration

	// lifecycle serializes Restart with Close so a restart never leaves a
	// client behind after teardown.
	lifecycle sync.Mutex
	closed    bool

	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Open acquires the instance lock and starts the bridge. A failure to start
// the client is logged, not returned; only lock and argument errors fail Open.
func Open(ctx context.Context, cfg *config.Config, factory bridge.Factory, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service requires a config")
	}
	if factory == nil {
		return nil, bridge.ErrNoFactory
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	logger = logging.NewComponentLogger(logger, "service")
	router := bridge.NewRouter(logger)
	manager := bridge.NewManager(factory, logger,
		bridge.WithInboxSize(cfg.Gate.InboxSize),
		bridge.WithStopTimeout(cfg.CallTimeout()),
	)
	s := &Service{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		manager:   manager,
		facade:    bridge.NewFacade(manager, logger),
		lock:      lock,
		reconnect: cfg.ReconnectInterval(),
	}
	if o.reconnect != nil {
		s.reconnect = *o.reconnect
	}
	for _, sub := range o.subscribers {
		router.Subscribe(sub)
	}

	if err := manager.Start(ctx, cfg.Gate.Endpoint, router); err != nil {
		s.logger.Info("service open with failed connection",
			logging.String(logging.FieldState, manager.State().String()),
			logging.String(logging.FieldEventType, "service_degraded"),
			logging.Error(err),
		)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	if s.reconnect > 0 {
		s.wg.Add(1)
		go s.superviseReconnect(runCtx)
	}

	s.logger.Info("candy service opened",
		logging.String("lock", cfg.LockPath()),
		logging.String(logging.FieldEndpoint, cfg.Gate.Endpoint),
		logging.String(logging.FieldState, manager.State().String()),
		logging.String(logging.FieldEventType, "service_opened"),
	)
	return s, nil
}

// Close stops the client exactly once and releases the instance lock.
// Subsequent calls are no-ops.
func (s *Service) Close() error {
	var unlockErr error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		s.lifecycle.Lock()
		s.closed = true
		s.manager.Stop(context.Background())
		s.lifecycle.Unlock()

		if err := s.lock.Unlock(); err != nil {
			unlockErr = fmt.Errorf("release lock: %w", err)
			logging.WarnWithContext(s.logger, "failed to release daemon lock", "lock_release_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
				logging.String(logging.FieldImpact, "next daemon start may report a running instance"),
			)
		}
		s.logger.Info("candy service closed", logging.String(logging.FieldEventType, "service_closed"))
	})
	return unlockErr
}

// Register forwards to the facade.
func (s *Service) Register(ctx context.Context, creds bridge.Credentials) bridge.Result {
	return s.facade.Register(ctx, creds)
}

// Login forwards to the facade.
func (s *Service) Login(ctx context.Context, creds bridge.Credentials) bridge.Result {
	return s.facade.Login(ctx, creds)
}

// SearchUser forwards to the facade.
func (s *Service) SearchUser(ctx context.Context, username string) bridge.UserList {
	return s.facade.SearchUser(ctx, username)
}

// Echo returns p unchanged.
func (s *Service) Echo(p bridge.Probe) bridge.Probe {
	return s.facade.Echo(p)
}

// Subscribe attaches sub to inbound events.
func (s *Service) Subscribe(sub bridge.Subscriber) bridge.Subscription {
	return s.router.Subscribe(sub)
}

// Unsubscribe detaches a subscriber. Unknown handles are ignored.
func (s *Service) Unsubscribe(sub bridge.Subscription) {
	s.router.Unsubscribe(sub)
}

// Restart stops the current client, if any, and starts a new one.
func (s *Service) Restart(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.manager.Stop(ctx)
	if err := s.manager.Start(ctx, s.cfg.Gate.Endpoint, s.router); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	s.logger.Info("client restarted", logging.String(logging.FieldEventType, "client_restarted"))
	return nil
}

// Status reports the connection snapshot and service metadata.
func (s *Service) Status() Status {
	snap := s.manager.Snapshot()
	return Status{
		State:       snap.State.String(),
		Endpoint:    snap.Endpoint,
		LastError:   snap.LastError,
		ConnectedAt: snap.ConnectedAt,
		Subscribers: s.router.Len(),
		PID:         os.Getpid(),
		LockPath:    s.cfg.LockPath(),
		Reconnect:   s.reconnect,
	}
}

// State returns the current connection state.
func (s *Service) State() bridge.ConnectionState {
	return s.manager.State()
}
