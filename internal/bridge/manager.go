package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"candybridge/internal/logging"
)

const (
	defaultInboxSize   = 64
	defaultStopTimeout = 5 * time.Second
)

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithInboxSize bounds the channel between client callbacks and the router.
func WithInboxSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.inboxSize = n
		}
	}
}

// WithStopTimeout bounds best-effort client teardown.
func WithStopTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

// WithClock overrides the time source used for ConnectedAt.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Snapshot is a point-in-time view of a Manager.
type Snapshot struct {
	State       ConnectionState
	Endpoint    string
	LastError   string
	ConnectedAt time.Time
}

// Manager owns at most one live client. All fields below mu are guarded by
// it, and mu is never held while calling into the client.
type Manager struct {
	factory     Factory
	logger      *slog.Logger
	inboxSize   int
	stopTimeout time.Duration
	now         func() time.Time

	mu          sync.Mutex
	state       ConnectionState
	client      Client
	session     *session
	endpoint    string
	lastError   string
	connectedAt time.Time
}

// NewManager returns a Disconnected manager that builds clients with factory.
func NewManager(factory Factory, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		factory:     factory,
		logger:      logging.NewComponentLogger(logger, "bridge"),
		inboxSize:   defaultInboxSize,
		stopTimeout: defaultStopTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a client for endpoint, wires its callbacks to router, and
// starts it. On failure the partially built client is stopped and released
// and the manager is left Failed. Start does not retry.
func (m *Manager) Start(ctx context.Context, endpoint string, router *Router) error {
	if router == nil {
		router = NewRouter(m.logger)
	}

	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	if m.factory == nil {
		m.state = StateFailed
		m.lastError = ErrNoFactory.Error()
		m.mu.Unlock()
		return ErrNoFactory
	}
	s := newSession(m, router, m.inboxSize)
	m.session = s
	m.state = StateConnecting
	m.endpoint = endpoint
	m.mu.Unlock()

	go s.pump()

	m.logger.Info("starting client",
		logging.String(logging.FieldEndpoint, endpoint),
		logging.String(logging.FieldEventType, "client_starting"),
	)

	client, err := m.factory(endpoint, s)
	if err != nil {
		m.abortStart(ctx, s, client, fmt.Errorf("create client: %w", err))
		return fmt.Errorf("create client: %w", err)
	}
	if client == nil {
		err = errors.New("create client: factory returned nil client")
		m.abortStart(ctx, s, nil, err)
		return err
	}
	if err := client.Start(ctx); err != nil {
		m.abortStart(ctx, s, client, fmt.Errorf("start client: %w", err))
		return fmt.Errorf("start client: %w", err)
	}

	m.mu.Lock()
	switch {
	case s.lost != "":
		reason := s.lost
		m.mu.Unlock()
		m.stopClient(ctx, client, "connection lost during start")
		return fmt.Errorf("start client: connection lost: %s", reason)
	case m.session != s:
		m.mu.Unlock()
		m.stopClient(ctx, client, "stopped during start")
		return ErrStopped
	}
	m.client = client
	m.state = StateConnected
	m.lastError = ""
	m.connectedAt = m.now()
	m.mu.Unlock()

	m.logger.Info("client connected",
		logging.String(logging.FieldEndpoint, endpoint),
		logging.String(logging.FieldEventType, "client_connected"),
	)
	return nil
}

func (m *Manager) abortStart(ctx context.Context, s *session, client Client, cause error) {
	if client != nil {
		m.stopClient(ctx, client, "cleanup after failed start")
	}

	m.mu.Lock()
	current := m.session == s
	if current {
		m.session = nil
		m.state = StateFailed
		m.lastError = cause.Error()
	}
	m.mu.Unlock()
	s.close()

	if current {
		logging.WarnWithContext(m.logger, "client start failed", "client_start_failed",
			logging.String(logging.FieldEndpoint, m.Snapshot().Endpoint),
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "check that the gateway endpoint is reachable"),
			logging.String(logging.FieldImpact, "requests fail until the bridge is restarted"),
		)
	}
}

// Stop releases the client if one is held and leaves the manager
// Disconnected. It is safe to call in any state and any number of times;
// client stop failures are logged, not returned.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	client := m.client
	s := m.session
	wasState := m.state
	m.client = nil
	m.session = nil
	m.state = StateDisconnected
	m.connectedAt = time.Time{}
	m.mu.Unlock()

	if s != nil {
		s.close()
	}
	if client != nil {
		m.stopClient(ctx, client, "stop requested")
	}
	if wasState != StateDisconnected {
		m.logger.Info("client stopped",
			logging.String("previous_state", wasState.String()),
			logging.String(logging.FieldEventType, "client_stopped"),
		)
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the state together with endpoint and error details.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:       m.state,
		Endpoint:    m.endpoint,
		LastError:   m.lastError,
		ConnectedAt: m.connectedAt,
	}
}

// connected returns the live client when the manager is Connected.
func (m *Manager) connected() (Client, ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.client == nil {
		return nil, m.state
	}
	return m.client, m.state
}

func (m *Manager) stopClient(ctx context.Context, client Client, reason string) {
	if ctx == nil {
		ctx = context.Background()
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.stopTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("client stop panicked: %v", rec)
			}
		}()
		return client.Stop(stopCtx)
	}()
	if err != nil {
		logging.WarnWithContext(m.logger, "client stop failed", "client_stop_failed",
			logging.String("reason", reason),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the gateway connection may linger until it times out"),
			logging.String(logging.FieldImpact, "client resources released without a clean shutdown"),
		)
	}
}

func (m *Manager) recordError(s *session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == s {
		m.lastError = err.Error()
	}
}

// connectionLost moves a live session to Failed and releases its client.
func (m *Manager) connectionLost(s *session, reason error) {
	m.mu.Lock()
	if m.session != s || (m.state != StateConnected && m.state != StateConnecting) {
		m.mu.Unlock()
		return
	}
	client := m.client
	m.client = nil
	m.session = nil
	s.lost = reason.Error()
	m.state = StateFailed
	m.lastError = reason.Error()
	m.connectedAt = time.Time{}
	m.mu.Unlock()

	logging.WarnWithContext(m.logger, "connection lost", "connection_lost",
		logging.Error(reason),
		logging.String(logging.FieldErrorHint, "restart the bridge or enable gate.reconnect_interval"),
		logging.String(logging.FieldImpact, "requests fail until the connection is re-established"),
	)
	s.router.DeliverError(reason.Error())
	s.close()
	if client != nil {
		m.stopClient(context.Background(), client, "connection lost")
	}
}
