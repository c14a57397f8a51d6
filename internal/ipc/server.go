package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"github.com/google/uuid"

	"candybridge/internal/bridge"
	"candybridge/internal/journal"
	"candybridge/internal/logging"
	"candybridge/internal/service"
)

// HistorySource returns recent journal entries.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// WatcherCounter reports the number of connected event watchers.
type WatcherCounter interface {
	Watchers() int
}

// ServerOptions carries optional collaborators for the control server.
type ServerOptions struct {
	History HistorySource
	Events  WatcherCounter
	// Shutdown is invoked by the Shutdown RPC. Nil disables remote shutdown.
	Shutdown func()
}

// Server exposes the service via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the control server at the given socket path.
func NewServer(ctx context.Context, path string, svc *service.Service, logger *slog.Logger, opts ServerOptions) (*Server, error) {
	if svc == nil {
		return nil, errors.New("ipc server requires service")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	handler := &candyService{svc: svc, logger: logger, ctx: serverCtx, opts: opts}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// Close stops the server, disconnects clients, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	removeSocket(s.logger, s.path)
}

func removeSocket(logger *slog.Logger, path string) {
	if err := os.RemoveAll(path); err != nil {
		logging.WarnWithContext(logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun candy stop"),
		)
	}
}

// candyService holds the exported RPC methods.
type candyService struct {
	svc    *service.Service
	logger *slog.Logger
	ctx    context.Context
	opts   ServerOptions
}

// request returns a per-call context tagged with a fresh correlation ID.
func (s *candyService) request(method string) (context.Context, *slog.Logger) {
	ctx := logging.WithCorrelationID(s.ctx, uuid.NewString())
	logger := logging.WithContext(ctx, s.logger)
	logger.Debug("rpc request", logging.String("method", method))
	return ctx, logger
}

func (s *candyService) Register(req CredentialsRequest, resp *AccountResponse) error {
	ctx, _ := s.request("Register")
	resp.Result = s.svc.Register(ctx, bridge.Credentials{Username: req.Username, Password: req.Password})
	return nil
}

func (s *candyService) Login(req CredentialsRequest, resp *AccountResponse) error {
	ctx, _ := s.request("Login")
	resp.Result = s.svc.Login(ctx, bridge.Credentials{Username: req.Username, Password: req.Password})
	return nil
}

func (s *candyService) SearchUser(req SearchUserRequest, resp *SearchUserResponse) error {
	ctx, _ := s.request("SearchUser")
	resp.List = s.svc.SearchUser(ctx, req.Username)
	return nil
}

func (s *candyService) Echo(req EchoRequest, resp *EchoResponse) error {
	resp.Probe = s.svc.Echo(req.Probe)
	return nil
}

func (s *candyService) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.svc.Status()
	resp.State = status.State
	resp.Endpoint = status.Endpoint
	resp.LastError = status.LastError
	resp.ConnectedAt = status.ConnectedAt
	resp.Subscribers = status.Subscribers
	resp.PID = status.PID
	resp.LockPath = status.LockPath
	resp.ReconnectSeconds = status.Reconnect.Seconds()
	resp.JournalEnabled = s.opts.History != nil
	if s.opts.Events != nil {
		resp.Watchers = s.opts.Events.Watchers()
	}
	return nil
}

func (s *candyService) Restart(_ RestartRequest, resp *RestartResponse) error {
	ctx, logger := s.request("Restart")
	if err := s.svc.Restart(ctx); err != nil {
		resp.Result = bridge.Failure(err.Error())
	} else {
		resp.Result = bridge.Result{Succeeded: true}
	}
	resp.State = s.svc.State().String()
	logger.Info("restart requested via IPC",
		logging.Bool("succeeded", resp.Result.Succeeded),
		logging.String(logging.FieldState, resp.State),
		logging.String(logging.FieldEventType, "ipc_restart"),
	)
	return nil
}

func (s *candyService) History(req HistoryRequest, resp *HistoryResponse) error {
	if s.opts.History == nil {
		resp.Enabled = false
		resp.Entries = []journal.Entry{}
		return nil
	}
	ctx, _ := s.request("History")
	entries, err := s.opts.History.Recent(ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Enabled = true
	resp.Entries = entries
	if resp.Entries == nil {
		resp.Entries = []journal.Entry{}
	}
	return nil
}

func (s *candyService) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	_, logger := s.request("Shutdown")
	resp.PID = os.Getpid()
	if s.opts.Shutdown == nil {
		return errors.New("remote shutdown not supported")
	}
	logger.Info("shutdown requested via IPC", logging.String(logging.FieldEventType, "ipc_shutdown"))
	resp.Accepted = true
	// Reply before the daemon tears down the socket.
	go s.opts.Shutdown()
	return nil
}
